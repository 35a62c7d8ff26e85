// Package datastoretest checks a datastore.Datastore implementation against
// the lease store contract.
package datastoretest

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/lovi-cloud/dora/datastore"
	"github.com/lovi-cloud/dora/dhcpd"
)

// Factory opens an empty store for network whose leases are stamped by now.
type Factory func(t *testing.T, network *dhcpd.Network, now func() time.Time) datastore.Datastore

var (
	hw1 = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	hw2 = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

// TestNetwork returns the 192.168.1.100-192.168.1.102 range.
func TestNetwork(t *testing.T) *dhcpd.Network {
	t.Helper()
	n, err := dhcpd.NewNetworkFromRange(
		netip.MustParseAddr("192.168.1.100"),
		netip.MustParseAddr("192.168.1.102"),
		netip.MustParseAddr("255.255.255.0"),
		netip.MustParseAddr("192.168.1.1"),
	)
	if err != nil {
		t.Fatalf("failed to build test network: %v", err)
	}
	return n
}

// Run runs the contract tests.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"IsInRange", testIsInRange},
		{"FindAvailableAscending", testFindAvailableAscending},
		{"FindAvailableFillsHoles", testFindAvailableFillsHoles},
		{"AcceptConflicts", testAcceptConflicts},
		{"AcceptStampsTime", testAcceptStampsTime},
		{"ReleaseRequiresBothKeys", testReleaseRequiresBothKeys},
		{"SingleAddressRange", testSingleAddressRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

func open(t *testing.T, newStore Factory, network *dhcpd.Network, now func() time.Time) datastore.Datastore {
	t.Helper()
	ds := newStore(t, network, now)
	t.Cleanup(func() {
		if err := ds.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return ds
}

func mustAccept(t *testing.T, ds datastore.Datastore, addr string, hw net.HardwareAddr) {
	t.Helper()
	if _, err := ds.Accept(context.Background(), netip.MustParseAddr(addr), hw); err != nil {
		t.Fatalf("Accept(%s) error = %v", addr, err)
	}
}

func wantAvailable(t *testing.T, ds datastore.Datastore, want string) {
	t.Helper()
	got, err := ds.FindAvailable(context.Background())
	if err != nil {
		t.Fatalf("FindAvailable() error = %v", err)
	}
	if got != netip.MustParseAddr(want) {
		t.Fatalf("FindAvailable() = %s, want %s", got, want)
	}
}

func wantLeaseCount(t *testing.T, ds datastore.Datastore, want int) {
	t.Helper()
	leases, err := ds.ListLeases(context.Background())
	if err != nil {
		t.Fatalf("ListLeases() error = %v", err)
	}
	if len(leases) != want {
		t.Fatalf("len(ListLeases()) = %d, want %d", len(leases), want)
	}
}

func testIsInRange(t *testing.T, newStore Factory) {
	ds := open(t, newStore, TestNetwork(t), nil)
	tests := map[string]bool{
		"192.168.1.99":  false,
		"192.168.1.100": true,
		"192.168.1.101": true,
		"192.168.1.102": true,
		"192.168.1.103": false,
		"10.0.0.1":      false,
	}
	for in, want := range tests {
		if got := ds.IsInRange(netip.MustParseAddr(in)); got != want {
			t.Errorf("IsInRange(%s) = %v, want %v", in, got, want)
		}
	}
}

func testFindAvailableAscending(t *testing.T, newStore Factory) {
	ds := open(t, newStore, TestNetwork(t), nil)
	for _, addr := range []string{"192.168.1.100", "192.168.1.101", "192.168.1.102"} {
		wantAvailable(t, ds, addr)
		mustAccept(t, ds, addr, hw1)
	}
	_, err := ds.FindAvailable(context.Background())
	if !errors.Is(err, datastore.ErrExhausted) {
		t.Fatalf("FindAvailable() error = %v, want ErrExhausted", err)
	}
}

func testFindAvailableFillsHoles(t *testing.T, newStore Factory) {
	ds := open(t, newStore, TestNetwork(t), nil)
	mustAccept(t, ds, "192.168.1.102", hw1)
	mustAccept(t, ds, "192.168.1.100", hw1)
	wantAvailable(t, ds, "192.168.1.101")
	mustAccept(t, ds, "192.168.1.101", hw2)

	if err := ds.Release(context.Background(), netip.MustParseAddr("192.168.1.100"), hw1); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	wantAvailable(t, ds, "192.168.1.100")
}

func testAcceptConflicts(t *testing.T, newStore Factory) {
	ds := open(t, newStore, TestNetwork(t), nil)
	ctx := context.Background()

	_, err := ds.Accept(ctx, netip.MustParseAddr("192.168.1.103"), hw1)
	if !errors.Is(err, datastore.ErrOutOfRange) || !datastore.IsConflict(err) {
		t.Fatalf("Accept(out of range) error = %v, want ErrOutOfRange", err)
	}

	mustAccept(t, ds, "192.168.1.101", hw1)
	for _, hw := range []net.HardwareAddr{hw2, hw1} {
		_, err := ds.Accept(ctx, netip.MustParseAddr("192.168.1.101"), hw)
		if !errors.Is(err, datastore.ErrAlreadyLeased) || !datastore.IsConflict(err) {
			t.Fatalf("Accept(leased, %s) error = %v, want ErrAlreadyLeased", hw, err)
		}
	}
	wantLeaseCount(t, ds, 1)
}

func testAcceptStampsTime(t *testing.T, newStore Factory) {
	stamp := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	ds := open(t, newStore, TestNetwork(t), func() time.Time { return stamp })
	lease, err := ds.Accept(context.Background(), netip.MustParseAddr("192.168.1.100"), hw1)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if !lease.Start.Equal(stamp) {
		t.Fatalf("Start = %s, want %s", lease.Start, stamp)
	}

	leases, err := ds.ListLeases(context.Background())
	if err != nil {
		t.Fatalf("ListLeases() error = %v", err)
	}
	if len(leases) != 1 {
		t.Fatalf("len(ListLeases()) = %d, want 1", len(leases))
	}
	got := leases[0]
	if got.IPAddress.Addr() != netip.MustParseAddr("192.168.1.100") || got.MACAddress.String() != hw1.String() || !got.Start.Equal(stamp) {
		t.Fatalf("ListLeases()[0] = %+v", got)
	}
}

func testReleaseRequiresBothKeys(t *testing.T, newStore Factory) {
	ds := open(t, newStore, TestNetwork(t), nil)
	ctx := context.Background()
	mustAccept(t, ds, "192.168.1.100", hw1)

	tests := []struct {
		name string
		addr string
		hw   net.HardwareAddr
	}{
		{name: "other hardware address", addr: "192.168.1.100", hw: hw2},
		{name: "other address", addr: "192.168.1.101", hw: hw1},
		{name: "out of range", addr: "10.0.0.1", hw: hw1},
	}
	for _, tt := range tests {
		err := ds.Release(ctx, netip.MustParseAddr(tt.addr), tt.hw)
		if !errors.Is(err, datastore.ErrNotFound) {
			t.Fatalf("%s: Release() error = %v, want ErrNotFound", tt.name, err)
		}
		wantLeaseCount(t, ds, 1)
	}

	if err := ds.Release(ctx, netip.MustParseAddr("192.168.1.100"), hw1); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	wantLeaseCount(t, ds, 0)
	if err := ds.Release(ctx, netip.MustParseAddr("192.168.1.100"), hw1); !errors.Is(err, datastore.ErrNotFound) {
		t.Fatalf("second Release() error = %v, want ErrNotFound", err)
	}
}

func testSingleAddressRange(t *testing.T, newStore Factory) {
	n, err := dhcpd.NewNetworkFromRange(
		netip.MustParseAddr("255.255.255.255"),
		netip.MustParseAddr("255.255.255.255"),
		netip.MustParseAddr("0.0.0.0"),
		netip.MustParseAddr("255.255.255.254"),
	)
	if err != nil {
		t.Fatalf("NewNetworkFromRange() error = %v", err)
	}
	ds := open(t, newStore, n, nil)
	wantAvailable(t, ds, "255.255.255.255")
	mustAccept(t, ds, "255.255.255.255", hw1)
	if _, err := ds.FindAvailable(context.Background()); !errors.Is(err, datastore.ErrExhausted) {
		t.Fatalf("FindAvailable() error = %v, want ErrExhausted", err)
	}
}
