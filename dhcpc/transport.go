package dhcpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lovi-cloud/dora/dhcp"
)

// Transport carries client messages to the server and back.
type Transport interface {
	Send(ctx context.Context, m *dhcp.Message) error
	// Receive blocks until a message arrives or ctx is done.
	Receive(ctx context.Context) (*dhcp.Message, error)
	Close() error
}

// UDPTransport sends every message to a fixed server address, which is the
// limited broadcast address by default.
type UDPTransport struct {
	conn   net.PacketConn
	server net.Addr
	logger *zap.Logger
}

// DefaultServerAddr is where DHCP servers listen.
var DefaultServerAddr = &net.UDPAddr{IP: net.IPv4bcast, Port: dhcp.ServerPort}

// ListenUDP opens a broadcast-capable socket on addr.
func ListenUDP(ctx context.Context, addr, iface string, server net.Addr, logger *zap.Logger) (*UDPTransport, error) {
	conn, err := dhcp.ListenPacket(ctx, addr, iface)
	if err != nil {
		return nil, err
	}
	return NewUDPTransport(conn, server, logger), nil
}

// NewUDPTransport wraps conn. A nil server means DefaultServerAddr.
func NewUDPTransport(conn net.PacketConn, server net.Addr, logger *zap.Logger) *UDPTransport {
	if server == nil {
		server = DefaultServerAddr
	}
	return &UDPTransport{
		conn:   conn,
		server: server,
		logger: logger,
	}
}

// Send encodes m and writes it to the server address.
func (u *UDPTransport) Send(ctx context.Context, m *dhcp.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := dhcp.Encode(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.MessageType(), err)
	}
	if _, err := u.conn.WriteTo(b, u.server); err != nil {
		return fmt.Errorf("failed to send %s: %w", m.MessageType(), err)
	}
	return nil
}

// Receive returns the next datagram that decodes. Malformed datagrams are
// logged and skipped.
func (u *UDPTransport) Receive(ctx context.Context) (*dhcp.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := u.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to reset read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1500)
	for {
		n, peer, err := u.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to receive dhcp response: %w", err)
		}
		m, err := dhcp.Decode(buf[:n])
		if err != nil {
			u.logger.Warn("failed to decode dhcp response", zap.String("peer", peer.String()), zap.Error(err))
			continue
		}
		return m, nil
	}
}

// Close closes the socket.
func (u *UDPTransport) Close() error {
	return u.conn.Close()
}

var _ Transport = &UDPTransport{}
