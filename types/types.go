package types

import (
	"database/sql/driver"
	"fmt"
	"net"
	"net/netip"
)

// IP is an IPv4 netip.Addr with the implementation of the Valuer and Scanner interface.
type IP netip.Addr

// Addr returns i as a netip.Addr.
func (i IP) Addr() netip.Addr {
	return netip.Addr(i)
}

// Value implements the database/sql/driver Valuer interface.
func (i IP) Value() (driver.Value, error) {
	return driver.Value(i.String()), nil
}

// Scan implements the database/sql Scanner interface.
func (i *IP) Scan(src interface{}) error {
	var ip *IP
	var err error
	switch src := src.(type) {
	case string:
		ip, err = ParseIP(src)
	case []uint8:
		ip, err = ParseIP(string(src))
	default:
		return fmt.Errorf("incompatible type for IP: %T", src)
	}
	if err != nil {
		return err
	}
	*i = *ip
	return nil
}

func (i IP) String() string {
	return netip.Addr(i).String()
}

// MarshalYAML is
func (i IP) MarshalYAML() (interface{}, error) {
	return i.String(), nil
}

// UnmarshalYAML is
func (i *IP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var buff string
	if err := unmarshal(&buff); err != nil {
		return err
	}
	tmp, err := ParseIP(buff)
	if err != nil {
		return fmt.Errorf("failed to unmarshal IP: input=\"%s\"", buff)
	}
	*i = *tmp
	return nil
}

// IPMask is a canonical IPv4 net.IPMask.
type IPMask net.IPMask

// Ones returns the prefix length of the mask.
func (i IPMask) Ones() int {
	ones, _ := net.IPMask(i).Size()
	return ones
}

func (i IPMask) String() string {
	return net.IP(i).String()
}

// MarshalYAML is
func (i IPMask) MarshalYAML() (interface{}, error) {
	return i.String(), nil
}

// UnmarshalYAML is
func (i *IPMask) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var buff string
	if err := unmarshal(&buff); err != nil {
		return err
	}
	tmp, err := ParseIPMask(buff)
	if err != nil {
		return fmt.Errorf("failed to unmarshal IPMask: input=\"%s\"", buff)
	}
	*i = *tmp
	return nil
}

// Prefix is netip.Prefix with YAML support.
type Prefix netip.Prefix

// Prefix returns p as a netip.Prefix.
func (p Prefix) Prefix() netip.Prefix {
	return netip.Prefix(p)
}

func (p Prefix) String() string {
	return netip.Prefix(p).String()
}

// MarshalYAML is
func (p Prefix) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML is
func (p *Prefix) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var buff string
	if err := unmarshal(&buff); err != nil {
		return err
	}
	tmp, err := ParseCIDR(buff)
	if err != nil {
		return fmt.Errorf("failed to unmarshal Prefix: input=\"%s\"", buff)
	}
	*p = *tmp
	return nil
}

// HardwareAddr is net.HardwareAddr with the implementation of the Valuer and Scanner interface.
type HardwareAddr net.HardwareAddr

// Value implements the database/sql/driver Valuer interface.
func (h HardwareAddr) Value() (driver.Value, error) {
	return driver.Value(h.String()), nil
}

// Scan implements the database/sql Scanner interface.
func (h *HardwareAddr) Scan(src interface{}) error {
	var mac *HardwareAddr
	var err error
	switch src := src.(type) {
	case string:
		mac, err = ParseMAC(src)
	case []uint8:
		mac, err = ParseMAC(string(src))
	default:
		return fmt.Errorf("incompatible type for HardwareAddr: %T", src)
	}
	if err != nil {
		return err
	}
	*h = *mac
	return nil
}

func (h HardwareAddr) String() string {
	return net.HardwareAddr(h).String()
}

// MarshalYAML is
func (h HardwareAddr) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

// UnmarshalYAML is
func (h *HardwareAddr) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var buff string
	if err := unmarshal(&buff); err != nil {
		return err
	}
	tmp, err := ParseMAC(buff)
	if err != nil {
		return fmt.Errorf("failed to unmarshal HardwareAddr: input=\"%s\"", buff)
	}
	*h = *tmp
	return nil
}

// ParseCIDR parses an IPv4 CIDR and masks it to its network address.
func ParseCIDR(s string) (*Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return nil, err
	}
	if !p.Addr().Is4() {
		return nil, fmt.Errorf("failed to parse CIDR: not IPv4: input=\"%s\"", s)
	}
	prefix := Prefix(p.Masked())
	return &prefix, nil
}

// ParseIPMask is
func ParseIPMask(s string) (*IPMask, error) {
	m := net.IPMask(net.ParseIP(s).To4())
	if m == nil {
		return nil, fmt.Errorf("failed to parse IPMask: input=\"%s\"", s)
	}
	if _, bits := m.Size(); bits == 0 {
		return nil, fmt.Errorf("failed to parse IPMask: non-contiguous mask: input=\"%s\"", s)
	}
	mask := IPMask(m)
	return &mask, nil
}

// ParseIP parses an IPv4 address.
func ParseIP(s string) (*IP, error) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Unmap().Is4() {
		return nil, fmt.Errorf("failed to parse IP: input=\"%s\"", s)
	}
	ip := IP(a.Unmap())
	return &ip, nil
}

// ParseMAC is
func ParseMAC(s string) (*HardwareAddr, error) {
	m, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	mac := HardwareAddr(m)
	return &mac, nil
}
