// Package fib installs computed routes into a forwarding table. The SPF
// core never depends on this package directly; a RouteInstaller is handed
// to the router orchestrator, which pushes every recomputed route table
// through it.
package fib

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/ospf2d/ospf2d/internal/spf"
)

// A RouteInstaller receives the full, freshly computed route table on every
// SPF run and reconciles it against whatever forwarding table it manages.
// Implementations must be safe to call repeatedly with overlapping routes;
// Sync is responsible for replacing, not merely adding.
type RouteInstaller interface {
	// Sync installs entries, the complete current set of routes this
	// router should forward along, replacing anything previously
	// installed by a prior Sync call.
	Sync(entries []spf.RouteEntry) error

	// Close removes any routes this installer has previously installed
	// and releases underlying resources.
	Close() error
}

// NoopInstaller discards every route table it is given. It is the default
// RouteInstaller: a router that only wants to participate in the protocol
// and observe the computed table (via metrics or logging) without touching
// the host's kernel routing table uses this.
type NoopInstaller struct {
	log *slog.Logger
}

// NewNoopInstaller returns a RouteInstaller that does nothing.
func NewNoopInstaller(log *slog.Logger) *NoopInstaller {
	if log == nil {
		log = slog.Default()
	}
	return &NoopInstaller{log: log.With("component", "fib", "installer", "noop")}
}

// Sync implements RouteInstaller.
func (n *NoopInstaller) Sync(entries []spf.RouteEntry) error {
	n.log.Debug("discarding computed route table", "routes", len(entries))
	return nil
}

// Close implements RouteInstaller.
func (n *NoopInstaller) Close() error { return nil }

// idToIP converts an ospf2.ID-shaped 4-byte router/network identifier into
// a net.IP. Kept here (rather than imported from ospf2) since fib only
// needs the byte layout, not the full type.
func idToIP(id [4]byte) net.IP {
	return net.IPv4(id[0], id[1], id[2], id[3])
}

// maskToIPMask converts a 32-bit network mask in host-independent
// big-endian form into a net.IPMask.
func maskToIPMask(mask uint32) net.IPMask {
	return net.IPMask{
		byte(mask >> 24),
		byte(mask >> 16),
		byte(mask >> 8),
		byte(mask),
	}
}

// prefixLen reports the number of leading one bits in an IPv4 mask, the
// form most netlink and routing APIs expect.
func prefixLen(mask net.IPMask) int {
	ones, _ := mask.Size()
	return ones
}

var errNotImplemented = fmt.Errorf("fib: route installer not implemented on this platform")
