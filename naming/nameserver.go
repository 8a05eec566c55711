// Package naming implements the two Name Server rendezvous strategies of
// spec §4.D: a local, process/user-local registry over a loopback socket,
// and a network-wide multicast-DNS (DNS-SD) publisher/resolver.
package naming

import (
	"github.com/distclass-go/dorpc/dclog"
	"github.com/distclass-go/dorpc/port"
)

// NameServer resolves and advertises service names to Ports.
type NameServer interface {
	// Lookup resolves name to a Port. If host is empty, resolution is
	// rendezvous-specific (local registry, or mDNS broadcast); if host is
	// set, a direct connection to host:port is attempted instead.
	Lookup(logger dclog.Logger, name, host string, preferredPort int) (port.Port, error)
	// Register advertises name as reachable at preferredPort and returns the
	// port actually bound. LocalNameServer picks an ephemeral port when
	// preferredPort is 0; MDNSNameServer rejects 0 with NAMING_FAILED.
	Register(logger dclog.Logger, name string, preferredPort int) (int, error)
	// Unregister withdraws a prior Register.
	Unregister(name string) error
	Close() error
}
