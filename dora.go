package dora

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lovi-cloud/dora/config"
	"github.com/lovi-cloud/dora/datastore"
	"github.com/lovi-cloud/dora/datastore/memory"
	"github.com/lovi-cloud/dora/datastore/sqlite"
	"github.com/lovi-cloud/dora/dhcp"
	"github.com/lovi-cloud/dora/dhcpc"
	"github.com/lovi-cloud/dora/dhcpd"
	"github.com/lovi-cloud/dora/dhcpd/godhcpd"
	"github.com/lovi-cloud/dora/httpd/gohttpd"
	"github.com/lovi-cloud/dora/metrics"
	"github.com/lovi-cloud/dora/types"
)

// RunServer runs the DHCP server until ctx is done.
func RunServer(ctx context.Context, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := loadServerConfig(args)
	if err != nil {
		return err
	}
	network, err := c.BuildNetwork()
	if err != nil {
		return err
	}

	var serverID netip.Addr
	if c.ServerID != nil {
		serverID = c.ServerID.Addr()
	} else if c.Interface != "" {
		serverID, err = getInterfaceAddress(c.Interface)
		if err != nil {
			return err
		}
	}
	var dns netip.Addr
	if c.DNSServer != nil {
		dns = c.DNSServer.Addr()
	}

	ds, err := openDatastore(ctx, c.Datastore, network)
	if err != nil {
		return err
	}
	defer ds.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := godhcpd.NewEngine(godhcpd.Config{
		Network:   network,
		LeaseTime: c.LeaseTime,
		DNSServer: dns,
		ServerID:  serverID,
	}, ds, logger, m)
	d, err := godhcpd.New(engine, c.Listen, c.Interface, logger)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("starting dhcpd",
			zap.String("addr", c.Listen),
			zap.String("iface", c.Interface),
			zap.Stringer("start", network.Start),
			zap.Stringer("end", network.End),
			zap.Int("size", network.Size()),
			zap.String("datastore", c.Datastore.Driver))
		return d.Serve(ctx)
	})

	if c.HTTPAddr != "" {
		h, err := gohttpd.New(ds, reg, c.HTTPAddr, logger)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			logger.Info("starting httpd", zap.String("addr", c.HTTPAddr))
			return h.Serve(ctx)
		})
	}

	return eg.Wait()
}

func loadServerConfig(args []string) (*config.Config, error) {
	def := config.Default()
	flags := flag.NewFlagSet(fmt.Sprintf("dorad (v%s rev:%s)", version, revision), flag.ContinueOnError)
	configPath := flags.String("config", "", "YAML config file; flags given explicitly override it")
	flags.String("listen", def.Listen, "dhcpd listening address")
	flags.String("iface", "", "interface to bind to; its IPv4 address is the default server id")
	flags.String("network", "", "network CIDR (gateway .1, range .2 to broadcast-1)")
	flags.String("range", "", "START:END allocation range (needs -mask and -gateway)")
	flags.String("mask", "", "subnet mask for -range")
	flags.String("gateway", "", "gateway for -range")
	flags.String("dns", def.DNSServer.String(), "dns server sent to clients, empty for none")
	flags.Duration("lease-time", def.LeaseTime, "lease time sent to clients")
	flags.String("server-id", "", "server identifier")
	flags.String("datastore", def.Datastore.Driver, "lease store (memory|sqlite)")
	flags.String("dsn", sqlite.DefaultDSN, "sqlite3 dsn")
	flags.String("http-addr", "", "listening address for /metrics and /leases, empty to disable")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	c := def
	if *configPath != "" {
		var err error
		c, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
	}
	var err error
	flags.Visit(func(f *flag.Flag) {
		if err == nil {
			err = applyServerFlag(c, f.Name, f.Value.String())
		}
	})
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyServerFlag(c *config.Config, name, value string) error {
	var err error
	switch name {
	case "listen":
		c.Listen = value
	case "iface":
		c.Interface = value
	case "network":
		c.Network.CIDR, err = types.ParseCIDR(value)
	case "range":
		c.Network.Start, c.Network.End, err = parseRange(value)
	case "mask":
		c.Network.SubnetMask, err = types.ParseIPMask(value)
	case "gateway":
		c.Network.Gateway, err = types.ParseIP(value)
	case "dns":
		c.DNSServer = nil
		if value != "" {
			c.DNSServer, err = types.ParseIP(value)
		}
	case "lease-time":
		c.LeaseTime, err = time.ParseDuration(value)
	case "server-id":
		c.ServerID, err = types.ParseIP(value)
	case "datastore":
		c.Datastore.Driver = value
	case "dsn":
		c.Datastore.DSN = value
	case "http-addr":
		c.HTTPAddr = value
	}
	if err != nil {
		return fmt.Errorf("invalid -%s: %w", name, err)
	}
	return nil
}

func parseRange(input string) (*types.IP, *types.IP, error) {
	words := strings.Split(input, ":")
	if len(words) != 2 {
		return nil, nil, fmt.Errorf("invalid format %q, want START:END", input)
	}
	start, err := types.ParseIP(words[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse start address: %w", err)
	}
	end, err := types.ParseIP(words[1])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse end address: %w", err)
	}
	return start, end, nil
}

func openDatastore(ctx context.Context, c config.Datastore, network *dhcpd.Network) (datastore.Datastore, error) {
	switch c.Driver {
	case config.DriverSQLite:
		dsn := c.DSN
		if dsn == "" {
			dsn = sqlite.DefaultDSN
		}
		return sqlite.New(ctx, network, dsn, nil)
	default:
		return memory.New(network, nil)
	}
}

// RunClient performs one lease exchange: DISCOVER, REQUEST, hold, RELEASE.
func RunClient(ctx context.Context, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var (
		iface   string
		hwaddr  string
		listen  string
		server  string
		xid     string
		dwell   time.Duration
		timeout time.Duration
	)
	flags := flag.NewFlagSet(fmt.Sprintf("dora (v%s rev:%s)", version, revision), flag.ContinueOnError)
	flags.StringVar(&iface, "iface", "", "interface to bind to; its MAC is the default -hwaddr")
	flags.StringVar(&hwaddr, "hwaddr", "", "client hardware address")
	flags.StringVar(&listen, "listen", "0.0.0.0:0", "client listening address")
	flags.StringVar(&server, "server", fmt.Sprintf("255.255.255.255:%d", dhcp.ServerPort), "server address")
	flags.StringVar(&xid, "xid", fmt.Sprintf("%#x", dhcpc.DefaultXID), "transaction id")
	flags.DurationVar(&dwell, "dwell", 30*time.Second, "how long the lease is held before release")
	flags.DurationVar(&timeout, "timeout", 0, "wait limit per reply, 0 waits forever")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := dhcpc.Config{Dwell: dwell, Timeout: timeout}
	x, err := strconv.ParseUint(xid, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid -xid: %w", err)
	}
	cfg.XID = uint32(x)
	switch {
	case hwaddr != "":
		cfg.HardwareAddr, err = net.ParseMAC(hwaddr)
		if err != nil {
			return fmt.Errorf("invalid -hwaddr: %w", err)
		}
	case iface != "":
		cfg.HardwareAddr, err = getInterfaceHardwareAddr(iface)
		if err != nil {
			return err
		}
	default:
		return errors.New("one of -hwaddr or -iface is required")
	}
	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return fmt.Errorf("invalid -server: %w", err)
	}

	tr, err := dhcpc.ListenUDP(ctx, listen, iface, serverAddr, logger)
	if err != nil {
		return err
	}
	defer tr.Close()
	client, err := dhcpc.New(tr, cfg, logger)
	if err != nil {
		return err
	}

	lease, err := client.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("released lease",
		zap.Stringer("addr", lease.Addr),
		zap.Stringer("server_id", lease.ServerID),
		zap.Stringer("router", lease.Router),
		zap.Duration("lease_time", lease.LeaseTime))
	return nil
}
