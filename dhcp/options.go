package dhcp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// OptionCode is the type byte of a TLV option.
type OptionCode uint8

// Option codes understood by dora.
const (
	OptPad              OptionCode = 0
	OptSubnetMask       OptionCode = 1
	OptRouter           OptionCode = 3
	OptDNSServer        OptionCode = 6
	OptRequestedIP      OptionCode = 50
	OptLeaseTime        OptionCode = 51
	OptMessageType      OptionCode = 53
	OptServerIdentifier OptionCode = 54
	OptEnd              OptionCode = 255
)

// fixedLength is the value length each recognized option must carry.
var fixedLength = map[OptionCode]int{
	OptSubnetMask:       4,
	OptRouter:           4,
	OptDNSServer:        4,
	OptRequestedIP:      4,
	OptLeaseTime:        4,
	OptMessageType:      1,
	OptServerIdentifier: 4,
}

func (c OptionCode) String() string {
	switch c {
	case OptPad:
		return "Pad"
	case OptSubnetMask:
		return "SubnetMask"
	case OptRouter:
		return "Router"
	case OptDNSServer:
		return "DNSServer"
	case OptRequestedIP:
		return "RequestedIP"
	case OptLeaseTime:
		return "LeaseTime"
	case OptMessageType:
		return "MessageType"
	case OptServerIdentifier:
		return "ServerIdentifier"
	case OptEnd:
		return "End"
	default:
		return fmt.Sprintf("Option(%d)", uint8(c))
	}
}

// MessageType is the value of the message-type option.
type MessageType uint8

// Message types exchanged by the client and the server.
const (
	MessageTypeUnknown  MessageType = 0
	MessageTypeDiscover MessageType = 1
	MessageTypeOffer    MessageType = 2
	MessageTypeRequest  MessageType = 3
	MessageTypeAck      MessageType = 5
	MessageTypeRelease  MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeDiscover:
		return "DISCOVER"
	case MessageTypeOffer:
		return "OFFER"
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeAck:
		return "ACK"
	case MessageTypeRelease:
		return "RELEASE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Option is a decoded (type, value) pair.
type Option struct {
	Code  OptionCode
	Value []byte
}

// Options is an ordered option list. The end sentinel is never stored in it;
// it is written by Marshal.
type Options []Option

// Get returns the value of the first option with the given code.
func (o Options) Get(code OptionCode) ([]byte, bool) {
	for _, opt := range o {
		if opt.Code == code {
			return opt.Value, true
		}
	}
	return nil, false
}

func (o Options) addr(code OptionCode) (netip.Addr, bool) {
	v, ok := o.Get(code)
	if !ok || len(v) != 4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte{v[0], v[1], v[2], v[3]}), true
}

// MessageType returns the message type, or MessageTypeUnknown when the option
// is missing, malformed or carries a value dora does not handle.
func (o Options) MessageType() MessageType {
	v, ok := o.Get(OptMessageType)
	if !ok || len(v) != 1 {
		return MessageTypeUnknown
	}
	switch t := MessageType(v[0]); t {
	case MessageTypeDiscover, MessageTypeOffer, MessageTypeRequest, MessageTypeAck, MessageTypeRelease:
		return t
	}
	return MessageTypeUnknown
}

// RequestedIP returns the requested-IP option.
func (o Options) RequestedIP() (netip.Addr, bool) {
	return o.addr(OptRequestedIP)
}

// ServerIdentifier returns the server-identifier option.
func (o Options) ServerIdentifier() (netip.Addr, bool) {
	return o.addr(OptServerIdentifier)
}

// SubnetMask returns the subnet-mask option.
func (o Options) SubnetMask() (netip.Addr, bool) {
	return o.addr(OptSubnetMask)
}

// Router returns the router option.
func (o Options) Router() (netip.Addr, bool) {
	return o.addr(OptRouter)
}

// DNSServer returns the DNS-server option.
func (o Options) DNSServer() (netip.Addr, bool) {
	return o.addr(OptDNSServer)
}

// LeaseTime returns the lease-time option.
func (o Options) LeaseTime() (time.Duration, bool) {
	v, ok := o.Get(OptLeaseTime)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return time.Duration(binary.BigEndian.Uint32(v)) * time.Second, true
}

// Validate checks every option against the rules Builder.Add enforces.
func (o Options) Validate() error {
	for _, opt := range o {
		if err := validateOption(opt.Code, opt.Value); err != nil {
			return err
		}
	}
	return nil
}

func validateOption(code OptionCode, value []byte) error {
	if code == OptPad || code == OptEnd {
		return fmt.Errorf("%w: %s carries no value", ErrOptionLength, code)
	}
	if want, ok := fixedLength[code]; ok && len(value) != want {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrOptionLength, code, want, len(value))
	}
	if len(value) > 255 {
		return fmt.Errorf("%w: %s value of %d bytes", ErrOptionLength, code, len(value))
	}
	return nil
}

// Marshal writes the TLV stream followed by the end sentinel. Call Validate
// first on options that did not come from a Builder.
func (o Options) Marshal() []byte {
	var buf []byte
	for _, opt := range o {
		buf = append(buf, byte(opt.Code), byte(len(opt.Value)))
		buf = append(buf, opt.Value...)
	}
	return append(buf, byte(OptEnd))
}

// Builder appends options in call order. The first invalid option is kept as
// the error returned by Build; later calls are ignored.
type Builder struct {
	opts Options
	err  error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an option. Recognized codes must carry their fixed value length.
func (b *Builder) Add(code OptionCode, value []byte) *Builder {
	if b.err != nil {
		return b
	}
	if err := validateOption(code, value); err != nil {
		b.err = err
		return b
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.opts = append(b.opts, Option{Code: code, Value: v})
	return b
}

// MessageType appends the message-type option.
func (b *Builder) MessageType(t MessageType) *Builder {
	return b.Add(OptMessageType, []byte{byte(t)})
}

// Addr appends a 4 byte address option.
func (b *Builder) Addr(code OptionCode, addr netip.Addr) *Builder {
	if b.err == nil && !addr.Is4() {
		b.err = fmt.Errorf("%w: %s wants an IPv4 address, got %s", ErrOptionLength, code, addr)
		return b
	}
	a := addr.As4()
	return b.Add(code, a[:])
}

// LeaseTime appends the lease-time option in whole seconds.
func (b *Builder) LeaseTime(d time.Duration) *Builder {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(d/time.Second))
	return b.Add(OptLeaseTime, buf)
}

// Build returns the option list, or the first construction error.
func (b *Builder) Build() (Options, error) {
	if b.err != nil {
		return nil, b.err
	}
	if n := len(b.opts.Marshal()); n > maxOptionBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrOptionsOverflow, n)
	}
	return b.opts, nil
}
