package memory

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/lovi-cloud/dora/datastore"
	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/types"
)

// Memory keeps leases in a map keyed by address. It is empty at start and
// discarded with the process.
type Memory struct {
	network *dhcpd.Network
	now     func() time.Time

	mu     sync.Mutex
	leases map[netip.Addr]dhcpd.Lease
}

// New returns an empty lease store for network. now stamps new leases; nil
// means time.Now.
func New(network *dhcpd.Network, now func() time.Time) (datastore.Datastore, error) {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		network: network,
		now:     now,
		leases:  make(map[netip.Addr]dhcpd.Lease),
	}, nil
}

// IsInRange is
func (m *Memory) IsInRange(addr netip.Addr) bool {
	return m.network.Contains(addr)
}

// FindAvailable scans the range in ascending order.
func (m *Memory) FindAvailable(ctx context.Context) (netip.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr := m.network.Start; addr.Compare(m.network.End) <= 0; addr = addr.Next() {
		if _, used := m.leases[addr]; !used {
			return addr, nil
		}
		if addr == m.network.End {
			break
		}
	}
	return netip.Addr{}, datastore.ErrExhausted
}

// Accept is
func (m *Memory) Accept(ctx context.Context, addr netip.Addr, mac net.HardwareAddr) (*dhcpd.Lease, error) {
	addr = addr.Unmap()
	if !m.IsInRange(addr) {
		return nil, fmt.Errorf("failed to accept %s: %w", addr, datastore.ErrOutOfRange)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[addr]; ok {
		return nil, fmt.Errorf("failed to accept %s: %w (held by %s)", addr, datastore.ErrAlreadyLeased, l.MACAddress)
	}
	hw := make(types.HardwareAddr, len(mac))
	copy(hw, mac)
	lease := dhcpd.Lease{
		IPAddress:  types.IP(addr),
		MACAddress: hw,
		Start:      m.now(),
	}
	m.leases[addr] = lease
	return &lease, nil
}

// Release is
func (m *Memory) Release(ctx context.Context, addr netip.Addr, mac net.HardwareAddr) error {
	addr = addr.Unmap()

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[addr]
	if !ok || !bytes.Equal(l.MACAddress, mac) {
		return fmt.Errorf("failed to release %s for %s: %w", addr, mac, datastore.ErrNotFound)
	}
	delete(m.leases, addr)
	return nil
}

// ListLeases is
func (m *Memory) ListLeases(ctx context.Context) ([]dhcpd.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	leases := make([]dhcpd.Lease, 0, len(m.leases))
	for _, l := range m.leases {
		leases = append(leases, l)
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].IPAddress.Addr().Less(leases[j].IPAddress.Addr())
	})
	return leases, nil
}

// Close is
func (m *Memory) Close() error {
	return nil
}

var _ datastore.Datastore = &Memory{}
