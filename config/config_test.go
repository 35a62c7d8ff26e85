package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dora.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigRange(t *testing.T) {
	path := writeConfig(t, `
listen: 0.0.0.0:6767
interface: eth1
network:
  start: 192.168.1.100
  end: 192.168.1.102
  subnet_mask: 255.255.255.0
  gateway: 192.168.1.1
lease_time: 30m
server_id: 192.168.1.2
datastore:
  driver: sqlite
  dsn: ":memory:"
http_addr: 127.0.0.1:9167
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.Listen != "0.0.0.0:6767" || c.Interface != "eth1" || c.HTTPAddr != "127.0.0.1:9167" {
		t.Fatalf("LoadConfig() = %+v", c)
	}
	if c.LeaseTime != 30*time.Minute {
		t.Fatalf("LeaseTime = %s, want 30m", c.LeaseTime)
	}
	if c.DNSServer.Addr() != netip.MustParseAddr("8.8.8.8") {
		t.Fatalf("DNSServer = %s, want default 8.8.8.8", c.DNSServer)
	}
	if c.ServerID.Addr() != netip.MustParseAddr("192.168.1.2") {
		t.Fatalf("ServerID = %s", c.ServerID)
	}
	if c.Datastore != (Datastore{Driver: DriverSQLite, DSN: ":memory:"}) {
		t.Fatalf("Datastore = %+v", c.Datastore)
	}

	n, err := c.BuildNetwork()
	if err != nil {
		t.Fatalf("BuildNetwork() error = %v", err)
	}
	if n.Start != netip.MustParseAddr("192.168.1.100") || n.End != netip.MustParseAddr("192.168.1.102") {
		t.Fatalf("BuildNetwork() range = %s-%s", n.Start, n.End)
	}
	if n.Mask != netip.MustParseAddr("255.255.255.0") || n.Gateway != netip.MustParseAddr("192.168.1.1") {
		t.Fatalf("BuildNetwork() = %+v", n)
	}
}

func TestLoadConfigCIDR(t *testing.T) {
	path := writeConfig(t, `
network:
  cidr: 10.0.0.77/24
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.Listen != ":67" || c.LeaseTime != time.Hour || c.Datastore.Driver != DriverMemory {
		t.Fatalf("defaults not applied: %+v", c)
	}
	n, err := c.BuildNetwork()
	if err != nil {
		t.Fatalf("BuildNetwork() error = %v", err)
	}
	if n.Gateway != netip.MustParseAddr("10.0.0.1") || n.Start != netip.MustParseAddr("10.0.0.2") || n.End != netip.MustParseAddr("10.0.0.254") {
		t.Fatalf("BuildNetwork() = %+v", n)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field": "network:\n  cidr: 10.0.0.0/24\nbogus: 1\n",
		"bad address":   "network:\n  start: 10.0.0.300\n",
		"ipv6 cidr":     "network:\n  cidr: 2001:db8::/64\n",
		"bad mask":      "network:\n  subnet_mask: 255.0.255.0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatal("LoadConfig() error = nil")
			}
		})
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadConfig(missing) error = %v, want ErrNotExist", err)
	}
}

func mustIP(t *testing.T, s string) *types.IP {
	t.Helper()
	ip, err := types.ParseIP(s)
	if err != nil {
		t.Fatalf("ParseIP(%s) error = %v", s, err)
	}
	return ip
}

func TestValidate(t *testing.T) {
	cidr, err := types.ParseCIDR("192.168.1.0/24")
	if err != nil {
		t.Fatalf("ParseCIDR() error = %v", err)
	}
	narrow, err := types.ParseCIDR("192.168.1.0/31")
	if err != nil {
		t.Fatalf("ParseCIDR() error = %v", err)
	}
	mask, err := types.ParseIPMask("255.255.255.0")
	if err != nil {
		t.Fatalf("ParseIPMask() error = %v", err)
	}

	tests := []struct {
		name   string
		modify func(c *Config)
		want   error
	}{
		{
			name:   "no network",
			modify: func(c *Config) {},
			want:   ErrInvalidConfig,
		},
		{
			name: "cidr and range",
			modify: func(c *Config) {
				c.Network.CIDR = cidr
				c.Network.Start = mustIP(t, "192.168.1.10")
			},
			want: ErrInvalidConfig,
		},
		{
			name: "incomplete range",
			modify: func(c *Config) {
				c.Network.Start = mustIP(t, "192.168.1.10")
				c.Network.End = mustIP(t, "192.168.1.20")
			},
			want: ErrInvalidConfig,
		},
		{
			name: "reversed range",
			modify: func(c *Config) {
				c.Network.Start = mustIP(t, "192.168.1.20")
				c.Network.End = mustIP(t, "192.168.1.10")
				c.Network.SubnetMask = mask
				c.Network.Gateway = mustIP(t, "192.168.1.1")
			},
			want: dhcpd.ErrInvalidNetwork,
		},
		{
			name: "prefix too long",
			modify: func(c *Config) {
				c.Network.CIDR = narrow
			},
			want: dhcpd.ErrInvalidNetwork,
		},
		{
			name: "zero lease time",
			modify: func(c *Config) {
				c.Network.CIDR = cidr
				c.LeaseTime = 0
			},
			want: ErrInvalidConfig,
		},
		{
			name: "unknown driver",
			modify: func(c *Config) {
				c.Network.CIDR = cidr
				c.Datastore.Driver = "mysql"
			},
			want: ErrInvalidConfig,
		},
		{
			name: "valid",
			modify: func(c *Config) {
				c.Network.CIDR = cidr
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
