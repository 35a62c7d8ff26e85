package godhcpd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lovi-cloud/dora/dhcp"
	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/metrics"
)

// GoDHCPd serves an Engine over UDP.
type GoDHCPd struct {
	engine  *Engine
	addr    string
	iface   string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a daemon listening on addr, bound to iface when it is not empty.
func New(engine *Engine, addr, iface string, logger *zap.Logger) (dhcpd.DHCPd, error) {
	return &GoDHCPd{
		engine:  engine,
		addr:    addr,
		iface:   iface,
		logger:  logger,
		metrics: engine.metrics,
	}, nil
}

// Serve serve dhcp daemon.
func (n *GoDHCPd) Serve(ctx context.Context) error {
	conn, err := dhcp.ListenPacket(ctx, n.addr, n.iface)
	if err != nil {
		return fmt.Errorf("failed to create new connection: %w", err)
	}
	return n.ServeConn(ctx, conn)
}

// ServeConn handles datagrams from conn one at a time until ctx is done.
// conn is closed on return.
func (n *GoDHCPd) ServeConn(ctx context.Context, conn net.PacketConn) error {
	eg, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return conn.Close()
		case <-done:
			return nil
		}
	})
	eg.Go(func() error {
		defer close(done)
		buf := make([]byte, 1500)
		for {
			size, peer, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return fmt.Errorf("failed to receive dhcp request: %w", err)
				}
				n.logger.Error("failed to receive dhcp request", zap.Error(err))
				continue
			}
			n.handle(ctx, conn, peer, buf[:size])
		}
	})

	return eg.Wait()
}

func (n *GoDHCPd) handle(ctx context.Context, conn net.PacketConn, peer net.Addr, data []byte) {
	req, err := dhcp.Decode(data)
	if err != nil {
		n.metrics.Dropped.WithLabelValues(metrics.ReasonDecode).Inc()
		n.logger.Warn("failed to decode dhcp request", zap.String("peer", peer.String()), zap.Error(err))
		return
	}
	n.logger.Debug("received request", zap.String("peer", peer.String()), zap.Stringer("type", req.MessageType()), zap.Uint32("xid", req.XID))

	resp, err := n.engine.Handle(ctx, req)
	if err != nil {
		n.logger.Info("dropped dhcp request", zap.String("peer", peer.String()), zap.Stringer("type", req.MessageType()), zap.Error(err))
		return
	}
	if resp == nil {
		return
	}

	out, err := dhcp.Encode(resp)
	if err != nil {
		n.logger.Error("failed to make response", zap.Error(err))
		return
	}
	if _, err := conn.WriteTo(out, peer); err != nil {
		n.logger.Error("failed to send dhcp response", zap.String("peer", peer.String()), zap.Error(err))
		return
	}
	n.metrics.Replies.WithLabelValues(resp.MessageType().String()).Inc()
	n.logger.Info("sent dhcp response", zap.String("peer", peer.String()), zap.Stringer("type", resp.MessageType()), zap.Stringer("yiaddr", resp.YourAddr))
}

var _ dhcpd.DHCPd = &GoDHCPd{}
