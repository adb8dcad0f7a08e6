// Package spf builds the link state graph from a router's LSA database and
// runs Dijkstra's shortest path algorithm over it to produce a route table,
// as described in RFC2328, section 16.1.
package spf

import (
	"encoding/binary"
	"net/netip"
	"sort"
	"time"

	"github.com/gaissmai/bart"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/ospf2"
)

const infinity = ^uint32(0)

// A RouteEntry is a single computed route: the network or router reachable
// at DestID/Mask, at cost Metric, via NextHop out the local interface whose
// address is IfaceAddr.
type RouteEntry struct {
	DestID    ospf2.ID
	Mask      uint32
	NextHop   ospf2.ID
	Metric    uint32
	IfaceAddr ospf2.ID
}

type node struct {
	id   ospf2.ID
	mask uint32
	dist uint32
}

type edge struct {
	dst  ospf2.ID
	dist uint32
}

// An InterfaceTable resolves the local egress interface for a computed
// route's next hop, corrected per SPEC_FULL.md's egress-interface open
// question: longest-prefix-match over each interface's attached subnet,
// rather than original_source's linear `addr == next_hop || addr & mask ==
// node.id` scan, so a next hop reachable only through a covering supernet
// (not an address-for-address match) still resolves correctly.
type InterfaceTable struct {
	lpm  *bart.Table[ospf2.ID]
	exact map[ospf2.ID]ospf2.ID
}

// NewInterfaceTable creates an empty InterfaceTable.
func NewInterfaceTable() *InterfaceTable {
	return &InterfaceTable{
		lpm:   new(bart.Table[ospf2.ID]),
		exact: make(map[ospf2.ID]ospf2.ID),
	}
}

// Update records that ifaceAddr is reachable on the subnet addr/mask, and as
// a point-to-point peer exactly at addr when mask is the host mask
// (255.255.255.255).
func (it *InterfaceTable) Update(addr ospf2.ID, mask uint32, ifaceAddr ospf2.ID) {
	bits := maskBits(mask)
	a4 := netip.AddrFrom4(addr)
	pfx := netip.PrefixFrom(a4, bits)
	it.lpm.Insert(pfx, ifaceAddr)
	if mask == 0xffffffff {
		it.exact[addr] = ifaceAddr
	}
}

func maskBits(mask uint32) int {
	n := 0
	for b := uint32(0x80000000); b != 0; b >>= 1 {
		if mask&b == 0 {
			break
		}
		n++
	}
	return n
}

// Lookup resolves the egress interface for dest, preferring an exact
// point-to-point peer match and falling back to the longest matching
// subnet.
func (it *InterfaceTable) Lookup(dest ospf2.ID) (ospf2.ID, bool) {
	if iface, ok := it.exact[dest]; ok {
		return iface, true
	}
	iface, ok := it.lpm.Lookup(netip.AddrFrom4(dest))
	return iface, ok
}

// A Table is the most recently computed set of routes, safe for concurrent
// reads while Compute rebuilds it elsewhere.
type Table struct {
	entries []RouteEntry
}

// Entries returns the current route table. The returned slice must not be
// modified by the caller.
func (t *Table) Entries() []RouteEntry {
	if t == nil {
		return nil
	}
	return t.entries
}

// Compute builds the link state graph from lsas, runs Dijkstra from
// routerID, and returns the resulting route table. Per SPEC_FULL.md's aging
// open question, any LSA whose Age has reached MaxAge is excluded from the
// graph entirely, so a stale link or network never contributes a route.
func Compute(routerID ospf2.ID, lsas []ospf2.LSA, ifaces *InterfaceTable) *Table {
	nodes := make(map[ospf2.ID]*node)
	edges := make(map[ospf2.ID][]edge)

	ensureNode := func(id ospf2.ID, mask uint32) *node {
		if n, ok := nodes[id]; ok {
			return n
		}
		n := &node{id: id, mask: mask, dist: infinity}
		nodes[id] = n
		return n
	}

	addEdge := func(src, dst ospf2.ID, dist uint32) {
		edges[src] = append(edges[src], edge{dst: dst, dist: dist})
	}

	networkLSAs := make(map[ospf2.ID]*ospf2.NetworkLSA)
	for _, l := range lsas {
		if isMaxAge(l) {
			continue
		}
		if nl, ok := l.(*ospf2.NetworkLSA); ok {
			networkLSAs[nl.Header.LinkStateID] = nl
		}
	}

	for _, l := range lsas {
		if isMaxAge(l) {
			continue
		}
		switch v := l.(type) {
		case *ospf2.RouterLSA:
			manageRouterLSA(v, ensureNode, addEdge, networkLSAs)
		case *ospf2.NetworkLSA:
			manageNetworkLSA(v, ensureNode, addEdge)
		}
	}

	prevs := dijkstra(routerID, nodes, edges)

	manageSummaryLSAs(lsas, nodes, prevs)

	entries := buildEntries(routerID, nodes, prevs, ifaces)
	return &Table{entries: entries}
}

// manageSummaryLSAs implements spec.md's inter-area summary step: for each
// SummaryNet LSA authored by a router already reached by dijkstra at
// distance D, the advertised prefix becomes reachable at D+Metric via that
// router, unless a shorter route to the same prefix is already known (e.g.
// from a RouterLSA stub network in the same area).
func manageSummaryLSAs(lsas []ospf2.LSA, nodes map[ospf2.ID]*node, prevs map[ospf2.ID]ospf2.ID) {
	for _, l := range lsas {
		if isMaxAge(l) {
			continue
		}
		sl, ok := l.(*ospf2.SummaryLSA)
		if !ok || sl.Header.Type != ospf2.LSTypeSummaryNet {
			continue
		}

		author, ok := nodes[sl.Header.AdvertisingRouter]
		if !ok || author.dist == infinity {
			continue
		}

		prefix := maskedID(sl.Header.LinkStateID, sl.NetworkMask)
		dist := author.dist + sl.Metric

		n, ok := nodes[prefix]
		if !ok {
			n = &node{id: prefix, mask: sl.NetworkMask, dist: infinity}
			nodes[prefix] = n
		}
		if dist < n.dist {
			n.dist = dist
			n.mask = sl.NetworkMask
			prevs[prefix] = sl.Header.AdvertisingRouter
		}
	}
}

func isMaxAge(l ospf2.LSA) bool {
	return uint16(ospf2.HeaderOf(l).Age/time.Second) >= config.MaxAgeSeconds
}

func idUint32(id ospf2.ID) uint32 {
	return binary.BigEndian.Uint32(id[:])
}

func idFromUint32(v uint32) ospf2.ID {
	var id ospf2.ID
	binary.BigEndian.PutUint32(id[:], v)
	return id
}

func manageRouterLSA(
	l *ospf2.RouterLSA,
	ensureNode func(ospf2.ID, uint32) *node,
	addEdge func(ospf2.ID, ospf2.ID, uint32),
	networkLSAs map[ospf2.ID]*ospf2.NetworkLSA,
) {
	src := l.Header.LinkStateID
	ensureNode(src, 0)

	for _, link := range l.Links {
		switch link.Type {
		case ospf2.LinkPointToPoint, ospf2.LinkVirtual:
			addEdge(src, link.LinkID, uint32(link.Metric))

		case ospf2.LinkTransit:
			nl, ok := networkLSAs[link.LinkID]
			if !ok {
				continue
			}
			for _, rtr := range nl.AttachedRouters {
				if rtr == src {
					continue
				}
				addEdge(src, rtr, uint32(link.Metric))
			}

		case ospf2.LinkStub:
			ensureNode(link.LinkID, link.LinkData)
			addEdge(src, link.LinkID, uint32(link.Metric))
		}
	}
}

func manageNetworkLSA(
	l *ospf2.NetworkLSA,
	ensureNode func(ospf2.ID, uint32) *node,
	addEdge func(ospf2.ID, ospf2.ID, uint32),
) {
	netID := maskedID(l.Header.LinkStateID, l.NetworkMask)
	ensureNode(netID, l.NetworkMask)
	for _, rtr := range l.AttachedRouters {
		addEdge(rtr, netID, 0)
	}
}

func maskedID(id ospf2.ID, mask uint32) ospf2.ID {
	return idFromUint32(idUint32(id) & mask)
}

// dijkstra runs the standard shortest-path algorithm over nodes/edges,
// returning each reachable node's predecessor on its shortest path from
// routerID.
func dijkstra(routerID ospf2.ID, nodes map[ospf2.ID]*node, edges map[ospf2.ID][]edge) map[ospf2.ID]ospf2.ID {
	prevs := make(map[ospf2.ID]ospf2.ID, len(nodes))

	self, ok := nodes[routerID]
	if !ok {
		return prevs
	}
	self.dist = 0

	remaining := make([]*node, 0, len(nodes))
	for _, n := range nodes {
		remaining = append(remaining, n)
	}

	visited := make(map[ospf2.ID]bool, len(nodes))
	for len(remaining) > 0 {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].dist < remaining[j].dist })
		u := remaining[0]
		remaining = remaining[1:]
		if u.dist == infinity {
			break
		}
		visited[u.id] = true

		for _, e := range edges[u.id] {
			v, ok := nodes[e.dst]
			if !ok || visited[e.dst] {
				continue
			}
			alt := u.dist + e.dist
			if alt < v.dist {
				v.dist = alt
				prevs[v.id] = u.id
			}
		}
	}

	return prevs
}

func buildEntries(routerID ospf2.ID, nodes map[ospf2.ID]*node, prevs map[ospf2.ID]ospf2.ID, ifaces *InterfaceTable) []RouteEntry {
	var entries []RouteEntry
	for _, n := range nodes {
		if n.dist == infinity || n.id == routerID {
			continue
		}

		cur := n.id
		var nextHop ospf2.ID
		for cur != routerID {
			prev, ok := prevs[cur]
			if !ok {
				// Disconnected from the root despite a finite distance;
				// shouldn't happen, but avoid looping forever.
				nextHop = ospf2.ID{}
				cur = routerID
				break
			}
			nextHop = cur
			cur = prev
		}

		entry := RouteEntry{
			DestID:  n.id,
			Mask:    n.mask,
			NextHop: nextHop,
			Metric:  n.dist,
		}
		if ifaces != nil {
			if iface, ok := ifaces.Lookup(nextHop); ok {
				entry.IfaceAddr = iface
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
