package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/types"
)

// Datastore drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is dora server config struct.
type Config struct {
	Listen    string        `yaml:"listen"`
	Interface string        `yaml:"interface"`
	Network   Network       `yaml:"network"`
	LeaseTime time.Duration `yaml:"lease_time"`
	DNSServer *types.IP     `yaml:"dns_server"`
	ServerID  *types.IP     `yaml:"server_id"`
	Datastore Datastore     `yaml:"datastore"`
	HTTPAddr  string        `yaml:"http_addr"`
}

// Network is either a CIDR or an explicit range with its mask and gateway.
type Network struct {
	CIDR       *types.Prefix `yaml:"cidr"`
	Start      *types.IP     `yaml:"start"`
	End        *types.IP     `yaml:"end"`
	SubnetMask *types.IPMask `yaml:"subnet_mask"`
	Gateway    *types.IP     `yaml:"gateway"`
}

// Datastore selects the lease store backend.
type Datastore struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Default returns the config used when nothing overrides it.
func Default() *Config {
	dns, _ := types.ParseIP("8.8.8.8")
	return &Config{
		Listen:    ":67",
		LeaseTime: time.Hour,
		DNSServer: dns,
		Datastore: Datastore{Driver: DriverMemory},
	}
}

// LoadConfig reads a YAML config from path on top of Default.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d := yaml.NewDecoder(f)
	d.SetStrict(true)

	c := Default()
	err = d.Decode(c)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return c, nil
}

// Validate is
func (c *Config) Validate() error {
	if _, err := c.BuildNetwork(); err != nil {
		return err
	}
	if c.LeaseTime <= 0 || c.LeaseTime/time.Second > 0xffffffff {
		return fmt.Errorf("%w: lease_time %s out of range", ErrInvalidConfig, c.LeaseTime)
	}
	switch c.Datastore.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("%w: unknown datastore driver %q", ErrInvalidConfig, c.Datastore.Driver)
	}
	return nil
}

// BuildNetwork returns the addressing plan described by c.Network.
func (c *Config) BuildNetwork() (*dhcpd.Network, error) {
	n := c.Network
	hasRange := n.Start != nil || n.End != nil
	switch {
	case n.CIDR != nil && hasRange:
		return nil, fmt.Errorf("%w: cidr and start/end are exclusive", ErrInvalidConfig)
	case n.CIDR != nil:
		if n.SubnetMask != nil || n.Gateway != nil {
			return nil, fmt.Errorf("%w: subnet_mask and gateway are derived from cidr", ErrInvalidConfig)
		}
		return dhcpd.NewNetworkFromCIDR(n.CIDR.Prefix())
	case hasRange:
		if n.Start == nil || n.End == nil || n.SubnetMask == nil || n.Gateway == nil {
			return nil, fmt.Errorf("%w: a range needs start, end, subnet_mask and gateway", ErrInvalidConfig)
		}
		mask, ok := netip.AddrFromSlice(*n.SubnetMask)
		if !ok {
			return nil, fmt.Errorf("%w: bad subnet_mask %s", ErrInvalidConfig, n.SubnetMask)
		}
		return dhcpd.NewNetworkFromRange(n.Start.Addr(), n.End.Addr(), mask.Unmap(), n.Gateway.Addr())
	default:
		return nil, fmt.Errorf("%w: network needs a cidr or a start/end range", ErrInvalidConfig)
	}
}
