// Package iface implements the OSPFv2 interface state machine described in
// RFC2328, section 9: Designated Router election, Hello generation, and the
// retransmission bookkeeping that drives each neighbor adjacency forward.
package iface

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/internal/lsdb"
	"github.com/ospf2d/ospf2d/internal/neighbor"
	"github.com/ospf2d/ospf2d/internal/timer"
	"github.com/ospf2d/ospf2d/ospf2"
)

// A Type describes the kind of network an interface runs over, per
// RFC2328, section 1.2.
type Type uint8

// Possible Type values.
const (
	TypePointToPoint Type = iota
	TypeBroadcast
	TypeNBMA
	TypePointToMultipoint
	TypeVirtual
)

func (t Type) String() string {
	switch t {
	case TypePointToPoint:
		return "PointToPoint"
	case TypeBroadcast:
		return "Broadcast"
	case TypeNBMA:
		return "NBMA"
	case TypePointToMultipoint:
		return "PointToMultipoint"
	case TypeVirtual:
		return "Virtual"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// State is an interface's position in the RFC2328, section 9.1 state
// machine.
type State uint8

// Possible State values.
const (
	Down State = iota
	Loopback
	Waiting
	PointToPoint
	DR
	BDR
	DROther
)

func (s State) String() string {
	switch s {
	case Down:
		return "Down"
	case Loopback:
		return "Loopback"
	case Waiting:
		return "Waiting"
	case PointToPoint:
		return "PointToPoint"
	case DR:
		return "DR"
	case BDR:
		return "BDR"
	case DROther:
		return "DROther"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event is an input to the interface state machine, per RFC2328,
// section 9.2.
type Event uint8

// Possible Event values.
const (
	EventInterfaceUp Event = iota
	EventInterfaceDown
	EventUnloopInd
	EventLoopInd
	EventWaitTimer
	EventBackupSeen
	EventNeighborChange
)

func (e Event) String() string {
	switch e {
	case EventInterfaceUp:
		return "InterfaceUp"
	case EventInterfaceDown:
		return "InterfaceDown"
	case EventUnloopInd:
		return "UnloopInd"
	case EventLoopInd:
		return "LoopInd"
	case EventWaitTimer:
		return "WaitTimer"
	case EventBackupSeen:
		return "BackupSeen"
	case EventNeighborChange:
		return "NeighborChange"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// Sender dispatches OSPFv2 packets on behalf of an Interface. The concrete
// implementation owns the raw socket (an ospf2.Conn); Interface only knows
// what to send and to whom.
type Sender interface {
	SendHello(i *Interface) error
	SendDBD(i *Interface, n *neighbor.Neighbor, flags ospf2.DDFlags, seq uint32, headers []ospf2.LSAHeader) error
	SendLSR(i *Interface, n *neighbor.Neighbor, requests []ospf2.LSRequest) error
	// SendLSU unicasts lsas to a single neighbor, used to answer its
	// Link State Request.
	SendLSU(i *Interface, dst net.IP, lsas []ospf2.LSA) error
	FloodLSU(i *Interface, lsas []ospf2.LSA, exclude *neighbor.Neighbor) error
	SendLSAck(i *Interface, dst net.IP, headers []ospf2.LSAHeader) error
}

// An Interface is a single network interface running OSPFv2, together with
// the neighbors discovered on it and the state driving DR/BDR election.
type Interface struct {
	Name string
	Type Type
	State State

	Addr net.IP
	Mask net.IP
	ID   ospf2.ID // this interface's address, as an ID, the way RFC2328 names links by address

	RouterID       ospf2.ID
	AreaID         ospf2.ID
	HelloInterval  time.Duration
	DeadInterval   time.Duration
	RxmtInterval   time.Duration
	InfTransDelay  time.Duration
	RouterPriority uint8
	Cost           uint16

	HelloTimer *timer.Timer
	WaitTimer  *timer.Timer

	DR  net.IP
	BDR net.IP

	Neighbors []*neighbor.Neighbor

	lastNbrState map[string]neighbor.State

	db     *lsdb.Database
	sender Sender
	log    *slog.Logger
}

// New creates an Interface bound to a network interface and its configured
// parameters. The Interface starts Down; the caller must dispatch
// EventInterfaceUp once it's ready to start running.
func New(ifi *net.Interface, addr, mask net.IP, typ Type, c config.Config, ic config.InterfaceConfig, db *lsdb.Database, sender Sender, log *slog.Logger) *Interface {
	if log == nil {
		log = slog.Default()
	}

	hello := orDefault(ic.HelloInterval, c.HelloInterval)
	dead := orDefault(ic.DeadInterval, c.DeadInterval)
	rxmt := orDefault(ic.RxmtInterval, c.RxmtInterval)
	transit := orDefault(ic.InfTransDelay, c.InfTransDelay)
	pri := c.RouterPriority
	if ic.RouterPriority != 0 {
		pri = ic.RouterPriority
	}

	var id ospf2.ID
	copy(id[:], addr.To4())

	return &Interface{
		Name:           ifi.Name,
		Type:           typ,
		State:          Down,
		Addr:           addr,
		Mask:           mask,
		ID:             id,
		RouterID:       c.RouterID,
		AreaID:         c.AreaID,
		HelloInterval:  hello,
		DeadInterval:   dead,
		RxmtInterval:   rxmt,
		InfTransDelay:  transit,
		RouterPriority: pri,
		Cost:           1,
		HelloTimer:     timer.New(hello),
		WaitTimer:      timer.New(dead),
		DR:             net.IPv4zero,
		BDR:            net.IPv4zero,
		lastNbrState:   make(map[string]neighbor.State),
		db:             db,
		sender:         sender,
		log:            log.With("interface", ifi.Name),
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// resetAndClose stops this interface's timers, kills every neighbor, and
// clears neighbor-tracking state, per RFC2328's InterfaceDown/LoopInd
// handling.
func (i *Interface) resetAndClose() {
	i.HelloTimer.Stop()
	i.WaitTimer.Stop()
	for _, n := range i.Neighbors {
		n.HandleEvent(neighbor.EventKillNbr, false)
	}
	i.Neighbors = nil
	i.lastNbrState = make(map[string]neighbor.State)
}

// CheckTimers polls this interface's Hello and Wait timers, the per-neighbor
// timers, and the DBD/LSR retransmission timers, dispatching whatever the
// poll turns up. The caller drives this once per iteration of the
// interface's event loop.
func (i *Interface) CheckTimers(ctx context.Context) {
	if expired, _ := i.HelloTimer.IsExpired(); i.HelloTimer.IsUp() && expired {
		if err := i.sender.SendHello(i); err != nil {
			i.log.Error("failed to send hello", "error", err)
		}
		i.HelloTimer.Start()
	}

	if i.WaitTimer.IsUp() {
		if expired, _ := i.WaitTimer.IsExpired(); expired {
			i.HandleEvent(EventWaitTimer)
			i.WaitTimer.Stop()
		}
	}

	for _, n := range i.Neighbors {
		n.CheckTimers()
		i.sendDBDIfNeeded(n)
		i.sendLSRIfNeeded(n)
	}
}

func (i *Interface) sendDBDIfNeeded(n *neighbor.Neighbor) {
	switch n.State {
	case neighbor.ExStart:
		if expired, _ := n.ExStartRxmtTimer.IsExpired(); n.ExStartRxmtTimer.IsUp() && expired {
			if n.LastSentDD != nil {
				if err := i.sender.SendDBD(i, n, n.LastSentDD.Flags, n.LastSentDD.Sequence, n.LastSentDD.LSAHeaders); err != nil {
					i.log.Error("failed to resend DBD", "neighbor", n.IP, "error", err)
				}
			}
			n.ExStartRxmtTimer.Start()
		}
	case neighbor.Exchange:
		if expired, _ := n.ExchangeRxmtTimer.IsExpired(); n.ExchangeRxmtTimer.IsUp() && expired {
			if n.LastSentDD != nil {
				if err := i.sender.SendDBD(i, n, n.LastSentDD.Flags, n.LastSentDD.Sequence, n.LastSentDD.LSAHeaders); err != nil {
					i.log.Error("failed to resend DBD", "neighbor", n.IP, "error", err)
				}
			}
			n.ExchangeRxmtTimer.Start()
		}
	}
}

func (i *Interface) sendLSRIfNeeded(n *neighbor.Neighbor) {
	if n.State != neighbor.Loading {
		return
	}
	if !n.LSRRxmtTimer.IsUp() {
		n.LSRRxmtTimer.StartImmediate()
	}
	expired, _ := n.LSRRxmtTimer.IsExpired()
	if !expired {
		return
	}
	if len(n.LinkStateRequest) == 0 {
		return
	}

	reqs := make([]ospf2.LSRequest, 0, len(n.LinkStateRequest))
	for _, h := range n.LinkStateRequest {
		reqs = append(reqs, ospf2.LSRequest{
			Type:              h.Type,
			LinkStateID:       h.LinkStateID,
			AdvertisingRouter: h.AdvertisingRouter,
		})
	}
	if err := i.sender.SendLSR(i, n, reqs); err != nil {
		i.log.Error("failed to send LSR", "neighbor", n.IP, "error", err)
	}
	n.LSRRxmtTimer.Start()
}

// neighborByIP finds a tracked neighbor by source IP.
func (i *Interface) neighborByIP(ip net.IP) (*neighbor.Neighbor, bool) {
	for _, n := range i.Neighbors {
		if n.IP.Equal(ip) {
			return n, true
		}
	}
	return nil, false
}

// adjacencyEligible decides whether a neighbor should be brought into full
// database synchronization, resolving the interface-type/DR-BDR dependent
// half of RFC2328 section 10.4 that internal/neighbor cannot answer on its
// own: every link type other than broadcast/NBMA always forms a full
// adjacency, while broadcast/NBMA links only do so with the segment's DR or
// BDR (or from the DR/BDR's own point of view, with any neighbor).
func (i *Interface) adjacencyEligible(n *neighbor.Neighbor) bool {
	switch i.Type {
	case TypePointToPoint, TypePointToMultipoint, TypeVirtual:
		return true
	default:
		if i.State == DR || i.State == BDR {
			return true
		}
		return n.IP.Equal(i.DR) || n.IP.Equal(i.BDR)
	}
}

// NeighborEvent advances a neighbor's state machine, supplying the
// adjacency-eligibility decision this interface owns, then re-checks whether
// that transition warrants regenerating this router's LSAs or re-running DR
// election, mirroring original_source's check_nbr_change.
func (i *Interface) NeighborEvent(n *neighbor.Neighbor, event neighbor.Event) {
	eligible := i.adjacencyEligible(n)
	n.HandleEvent(event, eligible)

	needNeighborChange := i.checkNbrChange()
	i.updateNbrStates()

	if needNeighborChange {
		i.HandleEvent(EventNeighborChange)
	}
}

// checkNbrChange reports whether a neighbor's two-way-connectivity status
// changed since the last call to updateNbrStates, and along the way
// regenerates this router's Router-LSA (and Network-LSA, if this interface
// is DR) the moment any neighbor reaches or leaves Full, per RFC2328
// section 12.4.
func (i *Interface) checkNbrChange() bool {
	needGenRouterLSA := false
	for ip, prev := range i.lastNbrState {
		if n, ok := i.neighborByIP(net.ParseIP(ip)); ok {
			if (n.State == neighbor.Full) != (prev == neighbor.Full) {
				needGenRouterLSA = true
				break
			}
		}
	}
	if needGenRouterLSA {
		i.genRouterLSA()
		if i.State == DR {
			i.genNetworkLSA()
		}
	}

	for ip, prev := range i.lastNbrState {
		n, ok := i.neighborByIP(net.ParseIP(ip))
		if !ok {
			if prev.HasTwoWayComm() {
				return true
			}
			continue
		}
		if twoWayChanged(prev, n.State) {
			return true
		}
	}
	for _, n := range i.Neighbors {
		if _, known := i.lastNbrState[n.IP.String()]; !known && n.State.HasTwoWayComm() {
			return true
		}
	}
	return false
}

func twoWayChanged(before, after neighbor.State) bool {
	return before.HasTwoWayComm() != after.HasTwoWayComm()
}

func (i *Interface) updateNbrStates() {
	i.lastNbrState = make(map[string]neighbor.State, len(i.Neighbors))
	for _, n := range i.Neighbors {
		i.lastNbrState[n.IP.String()] = n.State
	}
}

func (i *Interface) genRouterLSA() {
	link := ospf2.RouterLink{
		LinkID: i.routerLinkID(),
		Metric: i.Cost,
	}
	switch i.Type {
	case TypePointToPoint, TypeVirtual:
		link.Type = ospf2.LinkPointToPoint
		link.LinkData = ipToUint32(i.Addr)
	default:
		link.Type = ospf2.LinkTransit
		link.LinkData = ipToUint32(i.Addr)
	}

	resp := i.db.Do(lsdb.Request{Type: lsdb.ReqGenRouterLSA, IfaceAddr: i.ID, Link: link})
	if resp.Err != nil {
		i.log.Error("failed to generate router LSA", "error", resp.Err)
	}
}

// routerLinkID picks the Link ID RFC2328 table 2 assigns to this link type:
// the neighbor's router ID for a point-to-point link, or the DR's interface
// address for a transit network.
func (i *Interface) routerLinkID() ospf2.ID {
	switch i.Type {
	case TypePointToPoint, TypeVirtual:
		if len(i.Neighbors) > 0 {
			return i.Neighbors[0].ID
		}
		return i.ID
	default:
		var drID ospf2.ID
		copy(drID[:], i.DR.To4())
		return drID
	}
}

func (i *Interface) genNetworkLSA() {
	attached := make([]ospf2.ID, 0, len(i.Neighbors)+1)
	attached = append(attached, i.RouterID)
	for _, n := range i.Neighbors {
		if n.State == neighbor.Full {
			attached = append(attached, n.ID)
		}
	}

	resp := i.db.Do(lsdb.Request{
		Type:        lsdb.ReqGenNetworkLSA,
		NetworkAddr: i.ID,
		NetworkMask: ipToUint32(i.Mask),
		Attached:    attached,
	})
	if resp.Err != nil {
		i.log.Error("failed to generate network LSA", "error", resp.Err)
	}
}

func ipToUint32(ip net.IP) uint32 {
	b := ip.To4()
	if b == nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// HandleEvent advances the interface state machine.
func (i *Interface) HandleEvent(event Event) {
	before := i.State
	i.log.Debug("interface event", "event", event, "state", before)

	switch event {
	case EventInterfaceUp:
		switch i.Type {
		case TypePointToPoint, TypePointToMultipoint, TypeVirtual:
			i.State = PointToPoint
		default:
			i.State = Waiting
			i.WaitTimer.Start()
		}
		i.HelloTimer.StartImmediate()
		i.genRouterLSA()

	case EventInterfaceDown:
		i.State = Down
		i.resetAndClose()
		i.genRouterLSA()

	case EventUnloopInd:
		i.State = Down

	case EventLoopInd:
		i.State = Loopback
		i.resetAndClose()

	case EventWaitTimer, EventBackupSeen, EventNeighborChange:
		i.electDRBDR()
		i.genRouterLSA()
	}

	if before != i.State {
		i.log.Info("interface state changed", "from", before, "to", i.State)
	}
}

// candidate is a lightweight view of either a tracked neighbor or this
// router's own interface, used identically by the election helpers, per
// original_source's trick of adding a synthetic self-candidate to the pool.
type candidate struct {
	ip       net.IP
	id       ospf2.ID
	priority uint8
	dr       net.IP
	bdr      net.IP
}

// electOnceBDR runs a single pass of the BDR election algorithm
// (RFC2328, section 9.4, step 3): a candidate that has declared itself DR
// is never eligible; among the rest, if needDeclare is set only those who
// have declared themselves BDR are considered, and the highest
// priority (router ID breaking ties) wins.
func electOnceBDR(candidates []candidate, needDeclare bool) (net.IP, bool) {
	var bdr *candidate
	for idx := range candidates {
		c := &candidates[idx]
		if c.ip.Equal(c.dr) {
			continue
		}
		if !c.ip.Equal(c.bdr) && needDeclare {
			continue
		}
		if bdr == nil || betterCandidate(*c, *bdr) {
			bdr = c
		}
	}
	if bdr == nil {
		return nil, false
	}
	return bdr.ip, true
}

// electOnceDR runs a single pass of the DR election algorithm
// (RFC2328, section 9.4, step 2): only candidates that have declared
// themselves DR are considered, highest priority wins.
func electOnceDR(candidates []candidate) (net.IP, bool) {
	var dr *candidate
	for idx := range candidates {
		c := &candidates[idx]
		if !c.ip.Equal(c.dr) {
			continue
		}
		if dr == nil || betterCandidate(*c, *dr) {
			dr = c
		}
	}
	if dr == nil {
		return nil, false
	}
	return dr.ip, true
}

func betterCandidate(a, b candidate) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return bytesGreater(a.id[:], b.id[:])
}

func bytesGreater(a, b []byte) bool {
	for idx := range a {
		if a[idx] != b[idx] {
			return a[idx] > b[idx]
		}
	}
	return false
}

// electDRBDR runs the full Designated Router / Backup Designated Router
// election described in RFC2328, section 9.4, including the self-promotion
// correction (a router that newly becomes DR recomputes BDR with its own
// declared DR set) and the double-role check (if no BDR is found, this
// router tries to take the role unless doing so would leave it holding both
// roles at once).
func (i *Interface) electDRBDR() {
	var candidates []candidate
	for _, n := range i.Neighbors {
		if n.State.HigherThanTwoWay() || n.State == neighbor.TwoWay {
			candidates = append(candidates, candidate{
				ip: n.IP, id: n.ID, priority: n.Priority, dr: n.DR, bdr: n.BDR,
			})
		}
	}
	self := candidate{ip: i.Addr, id: i.ID, priority: i.RouterPriority, dr: i.DR, bdr: i.BDR}
	candidates = append(candidates, self)
	selfIdx := len(candidates) - 1

	prevDR, prevBDR := i.DR, i.BDR

	bdr, bdrOK := electOnceBDR(candidates, true)
	if !bdrOK {
		bdr, bdrOK = electOnceBDR(candidates, false)
	}

	dr, drOK := electOnceDR(candidates)
	if !drOK {
		dr, drOK = bdr, bdrOK
	}

	if !bdrOK {
		if drOK && !dr.Equal(i.Addr) {
			bdr, bdrOK = i.Addr, true
		} else {
			tmp := append([]candidate(nil), candidates...)
			tmp[selfIdx].dr = net.IPv4zero
			if tmpDR, ok := electOnceDR(tmp); ok {
				bdr, bdrOK = i.Addr, true
				dr, drOK = tmpDR, true
			}
		}
	}

	if drOK && !prevDR.Equal(dr) && i.Addr.Equal(dr) {
		tmp := append([]candidate(nil), candidates...)
		tmp[selfIdx].dr = i.Addr
		bdr, bdrOK = electOnceBDR(tmp, true)
	}

	switch {
	case drOK && i.Addr.Equal(dr):
		i.State = DR
	case bdrOK && i.Addr.Equal(bdr):
		i.State = BDR
	default:
		i.State = DROther
	}

	drChanged := !drOK || !prevDR.Equal(dr)
	bdrChanged := bdrOK && !prevBDR.Equal(bdr)
	if drChanged || bdrChanged {
		if drOK {
			i.DR = dr
		}
		if i.Addr.Equal(i.DR) {
			i.genNetworkLSA()
		}
		if bdrOK {
			i.BDR = bdr
		} else {
			i.BDR = net.IPv4zero
		}
		i.log.Info("DR/BDR election result", "dr", i.DR, "bdr", i.BDR)
		for _, n := range i.Neighbors {
			i.NeighborEvent(n, neighbor.EventAdjOK)
		}
	}
}
