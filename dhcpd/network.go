package dhcpd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"net/netip"
)

// ErrInvalidNetwork is returned by the Network factories.
var ErrInvalidNetwork = errors.New("invalid network configuration")

// Network is the immutable addressing plan the server hands out leases from.
// Start and End are inclusive.
type Network struct {
	Prefix    netip.Prefix
	Mask      netip.Addr
	Broadcast netip.Addr
	Gateway   netip.Addr
	Start     netip.Addr
	End       netip.Addr
}

// NewNetworkFromCIDR derives a Network from an IPv4 prefix. The first usable
// address is the gateway, allocation starts at the second one and ends at the
// last address before broadcast.
func NewNetworkFromCIDR(prefix netip.Prefix) (*Network, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%w: %s is not an IPv4 prefix", ErrInvalidNetwork, prefix)
	}
	if prefix.Bits() > 30 {
		return nil, fmt.Errorf("%w: /%d leaves no room for gateway and clients", ErrInvalidNetwork, prefix.Bits())
	}
	prefix = prefix.Masked()
	network := toUint32(prefix.Addr())
	mask := ^uint32(0) << (32 - prefix.Bits())
	broadcast := network | ^mask
	return &Network{
		Prefix:    prefix,
		Mask:      fromUint32(mask),
		Broadcast: fromUint32(broadcast),
		Gateway:   fromUint32(network + 1),
		Start:     fromUint32(network + 2),
		End:       fromUint32(broadcast - 1),
	}, nil
}

// NewNetworkFromRange builds a Network from explicit bounds. The network is
// derived from start and mask; both bounds and the gateway must lie in it.
func NewNetworkFromRange(start, end, mask, gateway netip.Addr) (*Network, error) {
	for _, a := range []netip.Addr{start, end, mask, gateway} {
		if !a.Is4() {
			return nil, fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidNetwork, a)
		}
	}
	m := toUint32(mask)
	if (^m)&((^m)+1) != 0 {
		return nil, fmt.Errorf("%w: non-contiguous mask %s", ErrInvalidNetwork, mask)
	}
	if start.Compare(end) > 0 {
		return nil, fmt.Errorf("%w: range start %s is after end %s", ErrInvalidNetwork, start, end)
	}
	prefix := netip.PrefixFrom(start, bits.OnesCount32(m)).Masked()
	for _, a := range []netip.Addr{end, gateway} {
		if !prefix.Contains(a) {
			return nil, fmt.Errorf("%w: %s is outside %s", ErrInvalidNetwork, a, prefix)
		}
	}
	return &Network{
		Prefix:    prefix,
		Mask:      mask,
		Broadcast: fromUint32(toUint32(prefix.Addr()) | ^m),
		Gateway:   gateway,
		Start:     start,
		End:       end,
	}, nil
}

// Contains reports whether addr is inside the allocation range.
func (n *Network) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.Is4() && n.Start.Compare(addr) <= 0 && addr.Compare(n.End) <= 0
}

// Size returns the number of addresses in the allocation range.
func (n *Network) Size() int {
	return int(toUint32(n.End)-toUint32(n.Start)) + 1
}

func toUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func fromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
