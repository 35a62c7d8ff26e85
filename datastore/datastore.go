package datastore

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/lovi-cloud/dora/dhcpd"
)

// Lease store errors. OutOfRange and AlreadyLeased are the two conflict kinds
// returned by Accept.
var (
	ErrOutOfRange    = errors.New("address is outside the allocation range")
	ErrAlreadyLeased = errors.New("address is already leased")
	ErrExhausted     = errors.New("allocation range is exhausted")
	ErrNotFound      = errors.New("lease not found")
)

// IsConflict reports whether err is one of the Accept conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrAlreadyLeased)
}

// Datastore is the lease store owned by the server engine. An address appears
// in at most one lease at a time and only addresses inside the allocation
// range are ever leased.
type Datastore interface {
	// IsInRange reports whether addr is inside the allocation range.
	IsInRange(addr netip.Addr) bool
	// FindAvailable returns the lowest unleased address of the range, or
	// ErrExhausted.
	FindAvailable(ctx context.Context) (netip.Addr, error)
	// Accept leases addr to mac. A leased address is a conflict even when
	// mac already holds it.
	Accept(ctx context.Context, addr netip.Addr, mac net.HardwareAddr) (*dhcpd.Lease, error)
	// Release removes the lease only if both addr and mac match, otherwise
	// it returns ErrNotFound and changes nothing.
	Release(ctx context.Context, addr netip.Addr, mac net.HardwareAddr) error
	// ListLeases returns the active leases ordered by address.
	ListLeases(ctx context.Context) ([]dhcpd.Lease, error)

	Close() error
}
