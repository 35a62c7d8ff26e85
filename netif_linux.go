//go:build linux

package dora

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

func getInterfaceAddress(name string) (netip.Addr, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to find interface %s: %w", name, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to get interface addresses %s: %w", name, err)
	}
	for _, addr := range addrs {
		if ip, ok := netip.AddrFromSlice(addr.IP.To4()); ok {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("failed to find interface address %s", name)
}

func getInterfaceHardwareAddr(name string) (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %s: %w", name, err)
	}
	hw := link.Attrs().HardwareAddr
	if len(hw) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address", name)
	}
	return hw, nil
}
