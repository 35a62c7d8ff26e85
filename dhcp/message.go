// Package dhcp implements the DHCPv4 wire format used by dora: the fixed
// BOOTP header followed by a 312 byte option region that starts with the
// magic cookie and holds a TLV option stream.
package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// Sizes of the wire packet.
const (
	HeaderSize     = 236
	OptionsSize    = 312
	PacketSize     = HeaderSize + OptionsSize
	maxOptionBytes = OptionsSize - len(magicCookie)
)

// FlagBroadcast is the broadcast bit of the flags field.
const FlagBroadcast uint16 = 0x8000

// Well known UDP ports.
const (
	ServerPort = 67
	ClientPort = 68
)

var magicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// Decode and encode errors.
var (
	ErrShortPacket     = errors.New("packet shorter than the fixed header")
	ErrBadCookie       = errors.New("invalid magic cookie")
	ErrTruncatedOption = errors.New("option runs past the option region")
	ErrOptionsOverflow = errors.New("options do not fit in the option region")
	ErrOptionLength    = errors.New("invalid option length")
	ErrNotIPv4         = errors.New("address is not IPv4")
)

// DecodeError reports where decoding a datagram failed.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode dhcp packet at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// OpCode is the BOOTP op field.
type OpCode uint8

// BOOTP operations.
const (
	OpRequest OpCode = 1
	OpReply   OpCode = 2
)

func (o OpCode) String() string {
	switch o {
	case OpRequest:
		return "BOOTREQUEST"
	case OpReply:
		return "BOOTREPLY"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(o))
	}
}

// Message is a DHCP packet. sname and file are not modelled; they are always
// written as zeros.
type Message struct {
	Op         OpCode
	HType      uint8
	HLen       uint8
	Hops       uint8
	XID        uint32
	Secs       uint16
	Flags      uint16
	ClientAddr netip.Addr
	YourAddr   netip.Addr
	ServerAddr netip.Addr
	RelayAddr  netip.Addr
	CHAddr     [16]byte
	Options    Options
}

// HardwareAddr returns the meaningful hlen bytes of chaddr.
func (m *Message) HardwareAddr() net.HardwareAddr {
	n := int(m.HLen)
	if n > len(m.CHAddr) {
		n = len(m.CHAddr)
	}
	hw := make(net.HardwareAddr, n)
	copy(hw, m.CHAddr[:n])
	return hw
}

// SetHardwareAddr stores hw left-justified in chaddr and sets hlen.
// Ethernet sized addresses also set htype to 1.
func (m *Message) SetHardwareAddr(hw net.HardwareAddr) {
	m.CHAddr = [16]byte{}
	n := copy(m.CHAddr[:], hw)
	m.HLen = uint8(n)
	if n == 6 {
		m.HType = 1
	}
}

// Broadcast reports whether the broadcast flag is set.
func (m *Message) Broadcast() bool {
	return m.Flags&FlagBroadcast != 0
}

// MessageType is shorthand for m.Options.MessageType().
func (m *Message) MessageType() MessageType {
	return m.Options.MessageType()
}

// NewReply returns a BOOTREPLY that carries over the correlation and hardware
// fields of req.
func NewReply(req *Message) *Message {
	return &Message{
		Op:         OpReply,
		HType:      req.HType,
		HLen:       req.HLen,
		XID:        req.XID,
		Flags:      req.Flags,
		ClientAddr: netip.IPv4Unspecified(),
		YourAddr:   netip.IPv4Unspecified(),
		ServerAddr: netip.IPv4Unspecified(),
		RelayAddr:  req.RelayAddr,
		CHAddr:     req.CHAddr,
	}
}

// Decode parses a datagram. Bytes past PacketSize are ignored.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, &DecodeError{Offset: len(data), Err: ErrShortPacket}
	}
	m := &Message{
		Op:         OpCode(data[0]),
		HType:      data[1],
		HLen:       data[2],
		Hops:       data[3],
		XID:        binary.BigEndian.Uint32(data[4:8]),
		Secs:       binary.BigEndian.Uint16(data[8:10]),
		Flags:      binary.BigEndian.Uint16(data[10:12]),
		ClientAddr: addrAt(data, 12),
		YourAddr:   addrAt(data, 16),
		ServerAddr: addrAt(data, 20),
		RelayAddr:  addrAt(data, 24),
	}
	copy(m.CHAddr[:], data[28:44])

	end := len(data)
	if end > PacketSize {
		end = PacketSize
	}
	opts, err := decodeOptions(data[HeaderSize:end])
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset += HeaderSize
		}
		return nil, err
	}
	m.Options = opts
	return m, nil
}

// decodeOptions walks the option region. Offsets in errors are relative to
// the start of the region.
func decodeOptions(region []byte) (Options, error) {
	if len(region) == 0 {
		return nil, nil
	}
	if len(region) < len(magicCookie) || [4]byte{region[0], region[1], region[2], region[3]} != magicCookie {
		return nil, &DecodeError{Offset: 0, Err: ErrBadCookie}
	}
	var opts Options
	i := len(magicCookie)
	for i < len(region) {
		code := OptionCode(region[i])
		if code == OptEnd {
			break
		}
		if code == OptPad {
			i++
			continue
		}
		if i+1 >= len(region) {
			return nil, &DecodeError{Offset: i, Err: ErrTruncatedOption}
		}
		n := int(region[i+1])
		if i+2+n > len(region) {
			return nil, &DecodeError{Offset: i, Err: ErrTruncatedOption}
		}
		v := make([]byte, n)
		copy(v, region[i+2:i+2+n])
		opts = append(opts, Option{Code: code, Value: v})
		i += 2 + n
	}
	return opts, nil
}

// Encode returns the PacketSize byte wire form of m.
func Encode(m *Message) ([]byte, error) {
	if err := m.Options.Validate(); err != nil {
		return nil, err
	}
	opts := m.Options.Marshal()
	if len(opts) > maxOptionBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrOptionsOverflow, len(opts))
	}

	buf := make([]byte, PacketSize)
	buf[0] = byte(m.Op)
	buf[1] = m.HType
	buf[2] = m.HLen
	buf[3] = m.Hops
	binary.BigEndian.PutUint32(buf[4:8], m.XID)
	binary.BigEndian.PutUint16(buf[8:10], m.Secs)
	binary.BigEndian.PutUint16(buf[10:12], m.Flags)
	for i, addr := range []netip.Addr{m.ClientAddr, m.YourAddr, m.ServerAddr, m.RelayAddr} {
		if err := putAddr(buf[12+4*i:16+4*i], addr); err != nil {
			return nil, err
		}
	}
	copy(buf[28:44], m.CHAddr[:])
	copy(buf[HeaderSize:], magicCookie[:])
	copy(buf[HeaderSize+len(magicCookie):], opts)
	return buf, nil
}

func addrAt(data []byte, off int) netip.Addr {
	return netip.AddrFrom4([4]byte{data[off], data[off+1], data[off+2], data[off+3]})
}

func putAddr(dst []byte, addr netip.Addr) error {
	if !addr.IsValid() {
		return nil
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return fmt.Errorf("%w: %s", ErrNotIPv4, addr)
	}
	a := addr.As4()
	copy(dst, a[:])
	return nil
}
