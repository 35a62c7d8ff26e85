package godhcpd

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/lovi-cloud/dora/datastore"
	"github.com/lovi-cloud/dora/dhcp"
	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/metrics"
)

// ErrUnsupportedMessage is returned by Handle for message types the server
// does not answer.
var ErrUnsupportedMessage = errors.New("unsupported message type")

// Config is the reply configuration of the engine.
type Config struct {
	Network   *dhcpd.Network
	LeaseTime time.Duration
	DNSServer netip.Addr
	// ServerID is sent as the server identifier when valid.
	ServerID netip.Addr
}

// Engine answers DHCP messages. It keeps no per-client state; everything
// it remembers lives in the lease store.
type Engine struct {
	cfg     Config
	ds      datastore.Datastore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine is
func NewEngine(cfg Config, ds datastore.Datastore, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Engine{
		cfg:     cfg,
		ds:      ds,
		logger:  logger,
		metrics: m,
	}
}

// Handle returns the reply for req. A nil reply with a nil error means there
// is nothing to send; an error means req was dropped.
func (e *Engine) Handle(ctx context.Context, req *dhcp.Message) (*dhcp.Message, error) {
	t := req.MessageType()
	e.metrics.Received.WithLabelValues(t.String()).Inc()

	var resp *dhcp.Message
	var err error
	switch t {
	case dhcp.MessageTypeDiscover:
		resp, err = e.handleDiscover(ctx, req)
	case dhcp.MessageTypeRequest:
		resp, err = e.handleRequest(ctx, req)
	case dhcp.MessageTypeRelease:
		err = e.handleRelease(ctx, req)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedMessage, t)
	}
	if err != nil {
		e.metrics.Dropped.WithLabelValues(dropReason(err)).Inc()
		return nil, err
	}
	return resp, nil
}

func (e *Engine) handleDiscover(ctx context.Context, req *dhcp.Message) (*dhcp.Message, error) {
	addr, err := e.ds.FindAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find available address: %w", err)
	}
	e.logger.Info("offering address", zap.Stringer("addr", addr), zap.Stringer("mac", req.HardwareAddr()), zap.Uint32("xid", req.XID))
	return e.makeResponse(req, dhcp.MessageTypeOffer, addr)
}

func (e *Engine) handleRequest(ctx context.Context, req *dhcp.Message) (*dhcp.Message, error) {
	addr := requestedAddr(req)
	lease, err := e.ds.Accept(ctx, addr, req.HardwareAddr())
	if datastore.IsConflict(err) {
		e.logger.Info("refused conflicting request", zap.Stringer("addr", addr), zap.Stringer("mac", req.HardwareAddr()), zap.Uint32("xid", req.XID), zap.Error(err))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept lease: %w", err)
	}
	e.metrics.Leases.Inc()
	e.logger.Info("leased address", zap.Stringer("addr", lease.IPAddress), zap.Stringer("mac", lease.MACAddress), zap.Uint32("xid", req.XID))
	return e.makeResponse(req, dhcp.MessageTypeAck, addr)
}

func (e *Engine) handleRelease(ctx context.Context, req *dhcp.Message) error {
	err := e.ds.Release(ctx, req.ClientAddr, req.HardwareAddr())
	if err != nil {
		return err
	}
	e.metrics.Leases.Dec()
	e.logger.Info("released address", zap.Stringer("addr", req.ClientAddr), zap.Stringer("mac", req.HardwareAddr()))
	return nil
}

// requestedAddr is yiaddr, or the requested-IP option when yiaddr is unset.
func requestedAddr(req *dhcp.Message) netip.Addr {
	if req.YourAddr.IsValid() && !req.YourAddr.IsUnspecified() {
		return req.YourAddr
	}
	if addr, ok := req.Options.RequestedIP(); ok {
		return addr
	}
	return req.YourAddr
}

func (e *Engine) makeResponse(req *dhcp.Message, t dhcp.MessageType, addr netip.Addr) (*dhcp.Message, error) {
	b := dhcp.NewBuilder().
		MessageType(t).
		LeaseTime(e.cfg.LeaseTime).
		Addr(dhcp.OptSubnetMask, e.cfg.Network.Mask)
	if e.cfg.DNSServer.IsValid() {
		b.Addr(dhcp.OptDNSServer, e.cfg.DNSServer)
	}
	b.Addr(dhcp.OptRouter, e.cfg.Network.Gateway)
	if e.cfg.ServerID.IsValid() {
		b.Addr(dhcp.OptServerIdentifier, e.cfg.ServerID)
	}
	opts, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s options: %w", t, err)
	}

	resp := dhcp.NewReply(req)
	resp.YourAddr = addr
	if e.cfg.ServerID.IsValid() {
		resp.ServerAddr = e.cfg.ServerID
	}
	resp.Options = opts
	return resp, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedMessage):
		return metrics.ReasonUnknownType
	case errors.Is(err, datastore.ErrExhausted):
		return metrics.ReasonExhausted
	case errors.Is(err, datastore.ErrOutOfRange):
		return metrics.ReasonOutOfRange
	case errors.Is(err, datastore.ErrAlreadyLeased):
		return metrics.ReasonAlreadyLeased
	case errors.Is(err, datastore.ErrNotFound):
		return metrics.ReasonNotFound
	default:
		return metrics.ReasonInternal
	}
}
