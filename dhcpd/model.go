package dhcpd

import (
	"time"

	"github.com/lovi-cloud/dora/types"
)

// Lease is a binding of one address to one client hardware address.
type Lease struct {
	IPAddress  types.IP           `db:"ip_address" yaml:"ip_address"`
	MACAddress types.HardwareAddr `db:"mac_address" yaml:"mac_address"`
	Start      time.Time          `db:"start_at" yaml:"start_at"`
}
