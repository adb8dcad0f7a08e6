//go:build linux

package fib

import (
	"fmt"
	"log/slog"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"

	"github.com/ospf2d/ospf2d/internal/spf"
	"github.com/ospf2d/ospf2d/ospf2"
)

// rtProtoOSPF is the routing protocol value OSPF routes are tagged with, so
// they can be told apart from static or other dynamic routes sharing the
// same table. Linux reserves 16-255 for user-space protocols; 89 is OSPF's
// IANA-assigned protocol number, reused here since it doubles as a
// memorable marker in `ip route show`.
const rtProtoOSPF = 89

// RTNetlinkInstaller installs computed routes into the Linux kernel's main
// routing table over an rtnetlink socket.
type RTNetlinkInstaller struct {
	conn     *rtnetlink.Conn
	ifIndex  map[ospf2.ID]uint32
	table    uint8
	installed map[routeKey]struct{}
	log      *slog.Logger
}

type routeKey struct {
	dest [4]byte
	bits int
}

// NewRTNetlinkInstaller dials an rtnetlink socket and returns a
// RouteInstaller that installs routes into the kernel's main table.
// ifIndexByAddr maps each local interface address (as an ospf2.ID) to its
// kernel interface index, used to resolve RouteEntry.IfaceAddr into the
// OutIface attribute rtnetlink requires.
func NewRTNetlinkInstaller(ifIndexByAddr map[ospf2.ID]uint32, log *slog.Logger) (*RTNetlinkInstaller, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("fib: dial rtnetlink: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RTNetlinkInstaller{
		conn:      conn,
		ifIndex:   ifIndexByAddr,
		table:     unix.RT_TABLE_MAIN,
		installed: make(map[routeKey]struct{}),
		log:       log.With("component", "fib", "installer", "rtnetlink"),
	}, nil
}

// Sync implements RouteInstaller: it replaces every route previously
// installed by this instance with entries, adding new routes, replacing
// changed ones, and withdrawing ones no longer present.
func (r *RTNetlinkInstaller) Sync(entries []spf.RouteEntry) error {
	wanted := make(map[routeKey]spf.RouteEntry, len(entries))
	for _, e := range entries {
		wanted[routeKey{dest: e.DestID, bits: prefixLen(maskToIPMask(e.Mask))}] = e
	}

	for k := range r.installed {
		if _, ok := wanted[k]; !ok {
			if err := r.delete(k); err != nil {
				r.log.Warn("failed to withdraw stale route", "error", err)
			}
			delete(r.installed, k)
		}
	}

	for k, e := range wanted {
		if err := r.replace(e); err != nil {
			r.log.Warn("failed to install route", "dest", idToIP(e.DestID), "error", err)
			continue
		}
		r.installed[k] = struct{}{}
	}

	r.log.Debug("synced route table", "routes", len(wanted))
	return nil
}

func (r *RTNetlinkInstaller) replace(e spf.RouteEntry) error {
	outIface, ok := r.ifIndex[e.IfaceAddr]
	if !ok {
		return fmt.Errorf("fib: no interface index known for egress address %s", idToIP(e.IfaceAddr))
	}

	msg := &rtnetlink.RouteMessage{
		Family:    unix.AF_INET,
		DstLength: uint8(prefixLen(maskToIPMask(e.Mask))),
		Table:     r.table,
		Protocol:  rtProtoOSPF,
		Scope:     unix.RT_SCOPE_UNIVERSE,
		Type:      unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Dst:      idToIP(e.DestID),
			Gateway:  idToIP(e.NextHop),
			OutIface: outIface,
			Priority: e.Metric,
		},
	}
	return r.conn.Route.Replace(msg)
}

func (r *RTNetlinkInstaller) delete(k routeKey) error {
	msg := &rtnetlink.RouteMessage{
		Family:    unix.AF_INET,
		DstLength: uint8(k.bits),
		Table:     r.table,
		Protocol:  rtProtoOSPF,
		Scope:     unix.RT_SCOPE_UNIVERSE,
		Type:      unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Dst: idToIP(k.dest),
		},
	}
	return r.conn.Route.Delete(msg)
}

// Close implements RouteInstaller: it withdraws every route this instance
// installed and closes the underlying netlink socket.
func (r *RTNetlinkInstaller) Close() error {
	for k := range r.installed {
		if err := r.delete(k); err != nil {
			r.log.Warn("failed to withdraw route on close", "error", err)
		}
	}
	return r.conn.Close()
}
