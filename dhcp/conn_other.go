//go:build !linux

package dhcp

import (
	"context"
	"fmt"
	"net"
)

// ListenPacket opens a udp4 socket. Binding to a device is only supported on
// linux.
func ListenPacket(ctx context.Context, addr, iface string) (net.PacketConn, error) {
	if iface != "" {
		return nil, fmt.Errorf("failed to bind to %s: not supported on this platform", iface)
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return conn, nil
}
