package dora

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lovi-cloud/dora/config"
	"github.com/lovi-cloud/dora/dhcpd"
)

func TestLoadServerConfigFlags(t *testing.T) {
	c, err := loadServerConfig([]string{
		"-range", "192.168.1.100:192.168.1.102",
		"-mask", "255.255.255.0",
		"-gateway", "192.168.1.1",
		"-dns", "",
		"-server-id", "192.168.1.2",
		"-datastore", "sqlite",
	})
	if err != nil {
		t.Fatalf("loadServerConfig() error = %v", err)
	}
	if c.DNSServer != nil {
		t.Fatalf("DNSServer = %s, want none", c.DNSServer)
	}
	if c.ServerID.Addr() != netip.MustParseAddr("192.168.1.2") {
		t.Fatalf("ServerID = %s", c.ServerID)
	}
	if c.Listen != ":67" || c.LeaseTime != time.Hour || c.Datastore.Driver != config.DriverSQLite {
		t.Fatalf("loadServerConfig() = %+v", c)
	}
	n, err := c.BuildNetwork()
	if err != nil {
		t.Fatalf("BuildNetwork() error = %v", err)
	}
	if n.Start != netip.MustParseAddr("192.168.1.100") || n.End != netip.MustParseAddr("192.168.1.102") {
		t.Fatalf("range = %s-%s", n.Start, n.End)
	}
}

func TestLoadServerConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dora.yaml")
	body := "network:\n  cidr: 10.1.0.0/16\nlease_time: 2h\nlisten: 127.0.0.1:6767\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	c, err := loadServerConfig([]string{"-config", path, "-lease-time", "10m"})
	if err != nil {
		t.Fatalf("loadServerConfig() error = %v", err)
	}
	if c.LeaseTime != 10*time.Minute {
		t.Fatalf("LeaseTime = %s, want flag value 10m", c.LeaseTime)
	}
	if c.Listen != "127.0.0.1:6767" {
		t.Fatalf("Listen = %s, want file value", c.Listen)
	}
	if c.Network.CIDR.Prefix() != netip.MustParsePrefix("10.1.0.0/16") {
		t.Fatalf("CIDR = %s", c.Network.CIDR)
	}
}

func TestLoadServerConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "no network", args: nil, want: config.ErrInvalidConfig},
		{name: "prefix too long", args: []string{"-network", "10.0.0.0/31"}, want: dhcpd.ErrInvalidNetwork},
		{name: "unknown driver", args: []string{"-network", "10.0.0.0/24", "-datastore", "mysql"}, want: config.ErrInvalidConfig},
		{name: "bad range", args: []string{"-range", "10.0.0.1-10.0.0.9"}},
		{name: "bad gateway", args: []string{"-gateway", "gw"}},
		{name: "unknown flag", args: []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadServerConfig(tt.args)
			if err == nil {
				t.Fatal("loadServerConfig() error = nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("loadServerConfig() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenDatastore(t *testing.T) {
	n, err := dhcpd.NewNetworkFromCIDR(netip.MustParsePrefix("192.168.10.0/24"))
	if err != nil {
		t.Fatalf("NewNetworkFromCIDR() error = %v", err)
	}
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ds, err := openDatastore(context.Background(), config.Datastore{Driver: driver}, n)
			if err != nil {
				t.Fatalf("openDatastore() error = %v", err)
			}
			defer ds.Close()
			got, err := ds.FindAvailable(context.Background())
			if err != nil {
				t.Fatalf("FindAvailable() error = %v", err)
			}
			if got != netip.MustParseAddr("192.168.10.2") {
				t.Fatalf("FindAvailable() = %s, want 192.168.10.2", got)
			}
		})
	}
}
