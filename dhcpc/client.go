// Package dhcpc drives the client side of a DHCP lease exchange: DISCOVER,
// REQUEST, a dwell while the lease is held, then RELEASE. There is no retry.
package dhcpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/lovi-cloud/dora/dhcp"
)

// DefaultXID is the transaction id the dora command sends unless -xid is given.
const DefaultXID uint32 = 0x12345678

// ErrInvalidHardwareAddr is returned by New for an empty or oversized
// hardware address.
var ErrInvalidHardwareAddr = errors.New("invalid hardware address")

// Config is
type Config struct {
	HardwareAddr net.HardwareAddr
	// XID is sent as is, zero included.
	XID uint32
	// Dwell is how long the lease is held before it is released.
	Dwell time.Duration
	// Timeout bounds each wait for a reply. Zero waits until ctx is done.
	Timeout time.Duration
}

// Lease is what the server acknowledged.
type Lease struct {
	Addr       netip.Addr
	ServerID   netip.Addr
	SubnetMask netip.Addr
	Router     netip.Addr
	DNSServer  netip.Addr
	LeaseTime  time.Duration
}

// Client is
type Client struct {
	transport Transport
	cfg       Config
	logger    *zap.Logger
}

// New returns a client that talks through t.
func New(t Transport, cfg Config, logger *zap.Logger) (*Client, error) {
	if len(cfg.HardwareAddr) == 0 || len(cfg.HardwareAddr) > 16 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHardwareAddr, cfg.HardwareAddr.String())
	}
	return &Client{
		transport: t,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run performs one full exchange and returns the lease that was held.
func (c *Client) Run(ctx context.Context) (*Lease, error) {
	offer, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	ack, err := c.Request(ctx, offer)
	if err != nil {
		return nil, err
	}
	lease := leaseFrom(ack)
	c.logger.Info("holding lease", zap.Stringer("addr", lease.Addr), zap.Duration("dwell", c.cfg.Dwell))

	if err := sleep(ctx, c.cfg.Dwell); err != nil {
		return nil, fmt.Errorf("interrupted while holding %s: %w", lease.Addr, err)
	}
	if err := c.Release(ctx, ack); err != nil {
		return nil, err
	}
	return lease, nil
}

// Discover broadcasts a DISCOVER and waits for the matching OFFER.
func (c *Client) Discover(ctx context.Context) (*dhcp.Message, error) {
	req, err := c.newMessage(dhcp.MessageTypeDiscover, c.cfg.XID, dhcp.NewBuilder())
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, req); err != nil {
		return nil, err
	}
	c.logger.Info("sent DISCOVER", zap.Uint32("xid", req.XID), zap.Stringer("mac", req.HardwareAddr()))

	offer, err := c.await(ctx, dhcp.MessageTypeOffer, req.XID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("received OFFER", zap.Stringer("yiaddr", offer.YourAddr))
	return offer, nil
}

// Request asks for the address of offer and waits for the ACK.
func (c *Client) Request(ctx context.Context, offer *dhcp.Message) (*dhcp.Message, error) {
	b := dhcp.NewBuilder().Addr(dhcp.OptRequestedIP, offer.YourAddr)
	if id, ok := offer.Options.ServerIdentifier(); ok {
		b.Addr(dhcp.OptServerIdentifier, id)
	}
	req, err := c.newMessage(dhcp.MessageTypeRequest, offer.XID, b)
	if err != nil {
		return nil, err
	}
	req.YourAddr = offer.YourAddr
	if err := c.transport.Send(ctx, req); err != nil {
		return nil, err
	}
	c.logger.Info("sent REQUEST", zap.Uint32("xid", req.XID), zap.Stringer("addr", offer.YourAddr))

	ack, err := c.await(ctx, dhcp.MessageTypeAck, req.XID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("received ACK", zap.Stringer("yiaddr", ack.YourAddr))
	return ack, nil
}

// Release gives back the address of ack. The server does not answer.
func (c *Client) Release(ctx context.Context, ack *dhcp.Message) error {
	b := dhcp.NewBuilder()
	if id := serverID(ack); id.IsValid() {
		b.Addr(dhcp.OptServerIdentifier, id)
	}
	req, err := c.newMessage(dhcp.MessageTypeRelease, ack.XID, b)
	if err != nil {
		return err
	}
	req.Flags = 0
	req.ClientAddr = ack.YourAddr
	if err := c.transport.Send(ctx, req); err != nil {
		return err
	}
	c.logger.Info("sent RELEASE", zap.Uint32("xid", req.XID), zap.Stringer("addr", ack.YourAddr))
	return nil
}

// await returns the first reply of type t for xid addressed to this client.
// Anything else is logged and skipped.
func (c *Client) await(ctx context.Context, t dhcp.MessageType, xid uint32) (*dhcp.Message, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	for {
		m, err := c.transport.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to receive %s: %w", t, err)
		}
		if m.Op != dhcp.OpReply || m.XID != xid || !c.ownsReply(m) || m.MessageType() != t {
			c.logger.Debug("ignoring unexpected message",
				zap.Stringer("op", m.Op),
				zap.Uint32("xid", m.XID),
				zap.Stringer("type", m.MessageType()),
				zap.Stringer("want", t))
			continue
		}
		return m, nil
	}
}

func (c *Client) ownsReply(m *dhcp.Message) bool {
	return m.HardwareAddr().String() == c.cfg.HardwareAddr.String()
}

func (c *Client) newMessage(t dhcp.MessageType, xid uint32, b *dhcp.Builder) (*dhcp.Message, error) {
	// the message type leads the option list
	opts, err := dhcp.NewBuilder().MessageType(t).Build()
	if err != nil {
		return nil, err
	}
	rest, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s options: %w", t, err)
	}
	m := &dhcp.Message{
		Op:         dhcp.OpRequest,
		XID:        xid,
		Flags:      dhcp.FlagBroadcast,
		ClientAddr: netip.IPv4Unspecified(),
		YourAddr:   netip.IPv4Unspecified(),
		ServerAddr: netip.IPv4Unspecified(),
		RelayAddr:  netip.IPv4Unspecified(),
		Options:    append(opts, rest...),
	}
	m.SetHardwareAddr(c.cfg.HardwareAddr)
	return m, nil
}

// serverID prefers the server identifier option and falls back to siaddr.
func serverID(m *dhcp.Message) netip.Addr {
	if id, ok := m.Options.ServerIdentifier(); ok {
		return id
	}
	if m.ServerAddr.IsValid() && !m.ServerAddr.IsUnspecified() {
		return m.ServerAddr
	}
	return netip.Addr{}
}

func leaseFrom(ack *dhcp.Message) *Lease {
	l := &Lease{
		Addr:     ack.YourAddr,
		ServerID: serverID(ack),
	}
	l.SubnetMask, _ = ack.Options.SubnetMask()
	l.Router, _ = ack.Options.Router()
	l.DNSServer, _ = ack.Options.DNSServer()
	l.LeaseTime, _ = ack.Options.LeaseTime()
	return l
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
