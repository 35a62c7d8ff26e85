package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/lovi-cloud/dora/datastore"
	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/types"
)

// DefaultDSN keeps the database in memory.
const DefaultDSN = ":memory:"

// SQLite is a lease store backed by sqlite. The lease table is emptied when
// the store is opened, so leases never outlive the process that made them.
type SQLite struct {
	db      *sqlx.DB
	network *dhcpd.Network
	now     func() time.Time
}

// New is
func New(ctx context.Context, network *dhcpd.Network, dsn string, now func() time.Time) (datastore.Datastore, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	if now == nil {
		now = time.Now
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	// an in-memory database lives as long as its connection
	db.SetMaxOpenConns(1)

	err = createTable(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{
		db:      db,
		network: network,
		now:     now,
	}, nil
}

// IsInRange is
func (s *SQLite) IsInRange(addr netip.Addr) bool {
	return s.network.Contains(addr)
}

func (s *SQLite) leasedAddresses(ctx context.Context) (map[netip.Addr]struct{}, error) {
	query := `SELECT ip_address FROM lease`
	var addrs []types.IP
	err := s.db.SelectContext(ctx, &addrs, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get leased addresses: %w", err)
	}
	set := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		set[a.Addr()] = struct{}{}
	}
	return set, nil
}

// FindAvailable is
func (s *SQLite) FindAvailable(ctx context.Context) (netip.Addr, error) {
	used, err := s.leasedAddresses(ctx)
	if err != nil {
		return netip.Addr{}, err
	}
	for addr := s.network.Start; addr.Compare(s.network.End) <= 0; addr = addr.Next() {
		if _, ok := used[addr]; !ok {
			return addr, nil
		}
		if addr == s.network.End {
			break
		}
	}
	return netip.Addr{}, datastore.ErrExhausted
}

// Accept is
func (s *SQLite) Accept(ctx context.Context, addr netip.Addr, mac net.HardwareAddr) (*dhcpd.Lease, error) {
	addr = addr.Unmap()
	if !s.IsInRange(addr) {
		return nil, fmt.Errorf("failed to accept %s: %w", addr, datastore.ErrOutOfRange)
	}
	lease := dhcpd.Lease{
		IPAddress:  types.IP(addr),
		MACAddress: types.HardwareAddr(mac),
		Start:      s.now(),
	}

	query := `INSERT INTO lease(ip_address, mac_address, start_at) VALUES(?, ?, ?)`
	stmt, err := s.db.PreparexContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, lease.IPAddress, lease.MACAddress, lease.Start)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return nil, fmt.Errorf("failed to accept %s: %w", addr, datastore.ErrAlreadyLeased)
	} else if err != nil {
		return nil, fmt.Errorf("failed to create new lease: %w", err)
	}
	return &lease, nil
}

// Release is
func (s *SQLite) Release(ctx context.Context, addr netip.Addr, mac net.HardwareAddr) error {
	addr = addr.Unmap()
	query := `DELETE FROM lease WHERE ip_address = ? AND mac_address = ?`
	stmt, err := s.db.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()
	ret, err := stmt.ExecContext(ctx, types.IP(addr), types.HardwareAddr(mac))
	if err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
	}
	n, err := ret.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to release %s for %s: %w", addr, mac, datastore.ErrNotFound)
	}
	return nil
}

// ListLeases is
func (s *SQLite) ListLeases(ctx context.Context) ([]dhcpd.Lease, error) {
	query := `SELECT ip_address, mac_address, start_at FROM lease`
	var leases []dhcpd.Lease
	err := s.db.SelectContext(ctx, &leases, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get leases: %w", err)
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].IPAddress.Addr().Less(leases[j].IPAddress.Addr())
	})
	return leases, nil
}

// Close closes the database connections.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func createTable(ctx context.Context, db *sqlx.DB) error {
	for _, table := range tables {
		_, err := db.ExecContext(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to create lease tables: %w", err)
		}
	}
	_, err := db.ExecContext(ctx, `DELETE FROM lease`)
	if err != nil {
		return fmt.Errorf("failed to clear lease table: %w", err)
	}
	return nil
}

var _ datastore.Datastore = &SQLite{}
