package iface

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/ospf2d/ospf2d/internal/lsdb"
	"github.com/ospf2d/ospf2d/internal/neighbor"
	"github.com/ospf2d/ospf2d/ospf2"
)

// mkNeighbor builds a Neighbor through neighbor.New, so its timers and
// logger are initialized, for tests that need to set a starting state
// directly rather than arrive at it via a Hello exchange.
func mkNeighbor(ip net.IP, state neighbor.State) *neighbor.Neighbor {
	n := neighbor.New(&ospf2.Hello{}, ospf2.ID{}, ip, 40*time.Second, 5*time.Second, nil)
	n.State = state
	return n
}

// recordingSender captures every call made through the Sender interface so
// tests can assert on what an interface tried to transmit, without a real
// socket.
type recordingSender struct {
	hellos   int
	dbds     []*ospf2.DatabaseDescription
	lsrs     []*ospf2.LinkStateRequest
	lsus     [][]ospf2.LSA
	floods   [][]ospf2.LSA
	lsacks   [][]ospf2.LSAHeader
}

func (s *recordingSender) SendHello(*Interface) error { s.hellos++; return nil }

func (s *recordingSender) SendDBD(_ *Interface, _ *neighbor.Neighbor, flags ospf2.DDFlags, seq uint32, headers []ospf2.LSAHeader) error {
	s.dbds = append(s.dbds, &ospf2.DatabaseDescription{Flags: flags, SequenceNumber: seq, LSAs: headers})
	return nil
}

func (s *recordingSender) SendLSR(_ *Interface, _ *neighbor.Neighbor, requests []ospf2.LSRequest) error {
	s.lsrs = append(s.lsrs, &ospf2.LinkStateRequest{Requests: requests})
	return nil
}

func (s *recordingSender) SendLSU(_ *Interface, _ net.IP, lsas []ospf2.LSA) error {
	s.lsus = append(s.lsus, lsas)
	return nil
}

func (s *recordingSender) FloodLSU(_ *Interface, lsas []ospf2.LSA, _ *neighbor.Neighbor) error {
	s.floods = append(s.floods, lsas)
	return nil
}

func (s *recordingSender) SendLSAck(_ *Interface, _ net.IP, headers []ospf2.LSAHeader) error {
	s.lsacks = append(s.lsacks, headers)
	return nil
}

// newPacketTestInterface builds an Interface backed by a live Database (so
// i.db.Do blocks on a real running goroutine, same as production) and a
// recordingSender in place of a real socket.
func newPacketTestInterface(t *testing.T, typ Type) (*Interface, *recordingSender) {
	t.Helper()

	db := lsdb.New(ospf2.ID{192, 168, 2, 2}, ospf2.ID{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tick := make(chan time.Time)
	go db.Run(ctx, tick)

	sender := &recordingSender{}

	return &Interface{
		Name:           "eth0",
		Type:           typ,
		State:          PointToPoint,
		Addr:           net.ParseIP("10.0.0.1"),
		ID:             ospf2.ID{10, 0, 0, 1},
		RouterID:       ospf2.ID{192, 168, 2, 2},
		DeadInterval:   40 * time.Second,
		RxmtInterval:   5 * time.Second,
		RouterPriority: 1,
		Cost:           1,
		DR:             net.IPv4zero,
		BDR:            net.IPv4zero,
		lastNbrState:   make(map[string]neighbor.State),
		db:             db,
		sender:         sender,
		log:            slog.Default(),
	}, sender
}

func mkHello(fromID ospf2.ID, includeSelf bool, self ospf2.ID) *ospf2.Hello {
	var nbrs []ospf2.ID
	if includeSelf {
		nbrs = append(nbrs, self)
	}
	return &ospf2.Hello{
		Header:         ospf2.Header{RouterID: fromID},
		RouterPriority: 1,
		NeighborIDs:    nbrs,
	}
}

func TestHandleHelloTwoWayBringsUpExStartOnPointToPoint(t *testing.T) {
	t.Parallel()

	i, _ := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	h := mkHello(ospf2.ID{10, 0, 0, 2}, true, i.RouterID)

	i.handleHello(h, src)

	n, ok := i.neighborByIP(src)
	if !ok {
		t.Fatal("expected a neighbor to be created from the Hello")
	}
	if n.State != neighbor.ExStart {
		t.Fatalf("neighbor state = %v, want ExStart (point-to-point is always adjacency eligible)", n.State)
	}
}

func TestHandleHelloOneWayStopsAtInit(t *testing.T) {
	t.Parallel()

	i, _ := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	h := mkHello(ospf2.ID{10, 0, 0, 2}, false, i.RouterID)

	i.handleHello(h, src)

	n, ok := i.neighborByIP(src)
	if !ok {
		t.Fatal("expected a neighbor to be created from the Hello")
	}
	if n.State != neighbor.Init {
		t.Fatalf("neighbor state = %v, want Init (this router wasn't named in the Hello)", n.State)
	}
}

func TestHandleDBDHigherNeighborIDBecomesMaster(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	peerID := ospf2.ID{200, 0, 0, 2} // higher than i.RouterID ({192, 168, 2, 2})
	i.handleHello(mkHello(peerID, true, i.RouterID), src)

	n, ok := i.neighborByIP(src)
	if !ok || n.State != neighbor.ExStart {
		t.Fatalf("setup: neighbor state = %v, want ExStart", n.State)
	}

	dbd := &ospf2.DatabaseDescription{
		Header:         ospf2.Header{RouterID: n.ID},
		Flags:          ospf2.MSBit | ospf2.MBit | ospf2.IBit,
		SequenceNumber: 42,
	}
	i.handleDBD(dbd, src)

	if !n.IsMaster {
		t.Fatal("neighbor with the higher router ID should become master")
	}
	if n.State != neighbor.Exchange {
		t.Fatalf("neighbor state = %v, want Exchange after negotiation", n.State)
	}
	if len(sender.dbds) != 1 {
		t.Fatal("this router is slave; it must send the first real DBD in response once negotiation completes")
	}
	if sender.dbds[0].Flags&ospf2.MSBit != 0 {
		t.Fatal("the slave's DBD must not have the MS-bit set")
	}
}

func TestHandleLSRUnicastsFoundLSAs(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := mkNeighbor(src, neighbor.Exchange)
	i.Neighbors = append(i.Neighbors, n)

	l := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: i.RouterID,
		},
	}
	if err := ospf2.SetChecksumLength(l); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}
	i.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: l})

	lsr := &ospf2.LinkStateRequest{
		Requests: []ospf2.LSRequest{{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       l.Header.LinkStateID,
			AdvertisingRouter: l.Header.AdvertisingRouter,
		}},
	}
	i.handleLSR(lsr, src)

	if len(sender.lsus) != 1 || len(sender.lsus[0]) != 1 {
		t.Fatalf("SendLSU calls = %v, want exactly one call carrying one LSA", sender.lsus)
	}
}

func TestHandleLSRMissingLSATriggersBadLSReq(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := mkNeighbor(src, neighbor.Exchange)
	i.Neighbors = append(i.Neighbors, n)

	lsr := &ospf2.LinkStateRequest{
		Requests: []ospf2.LSRequest{{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 9},
		}},
	}
	i.handleLSR(lsr, src)

	if len(sender.lsus) != 0 {
		t.Fatal("no LSU should be sent when a requested LSA isn't in the database")
	}
	if n.State != neighbor.ExStart {
		t.Fatalf("neighbor state = %v, want ExStart after BadLSReq restarts negotiation", n.State)
	}
}

func TestHandleLSUInstallsFloodsAndAcksNewLSA(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := &neighbor.Neighbor{IP: src, State: neighbor.Full}
	i.Neighbors = append(i.Neighbors, n)

	l := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
		},
	}
	if err := ospf2.SetChecksumLength(l); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}

	lsu := &ospf2.LinkStateUpdate{LSAs: []ospf2.LSA{l}}
	i.handleLSU(lsu, src)

	if len(sender.floods) != 1 {
		t.Fatalf("FloodLSU calls = %d, want 1", len(sender.floods))
	}
	if len(sender.lsacks) != 1 {
		t.Fatalf("SendLSAck calls = %d, want 1", len(sender.lsacks))
	}

	found := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryByHeader, Header: l.Header})
	if !found.Found {
		t.Fatal("the new LSA should have been installed into the database")
	}
}

func TestHandleLSUSameInstanceOnlyAcks(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := &neighbor.Neighbor{IP: src, State: neighbor.Full}
	i.Neighbors = append(i.Neighbors, n)

	l := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
		},
	}
	if err := ospf2.SetChecksumLength(l); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}
	i.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: l})

	lsu := &ospf2.LinkStateUpdate{LSAs: []ospf2.LSA{l}}
	i.handleLSU(lsu, src)

	if len(sender.floods) != 0 {
		t.Fatal("an identical instance shouldn't be reflooded")
	}
	if len(sender.lsacks) != 1 {
		t.Fatalf("SendLSAck calls = %d, want 1", len(sender.lsacks))
	}
}

func TestHandleLSUNewerIncomingInstallsFloodsAndAcks(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := &neighbor.Neighbor{IP: src, State: neighbor.Full}
	i.Neighbors = append(i.Neighbors, n)

	old := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
			SequenceNumber:    1,
		},
	}
	if err := ospf2.SetChecksumLength(old); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}
	i.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: old})

	newer := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
			SequenceNumber:    2,
		},
	}
	if err := ospf2.SetChecksumLength(newer); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}

	lsu := &ospf2.LinkStateUpdate{LSAs: []ospf2.LSA{newer}}
	i.handleLSU(lsu, src)

	if len(sender.floods) != 1 {
		t.Fatalf("FloodLSU calls = %d, want 1", len(sender.floods))
	}
	if len(sender.lsacks) != 1 {
		t.Fatalf("SendLSAck calls = %d, want 1", len(sender.lsacks))
	}
	if len(sender.lsus) != 0 {
		t.Fatalf("SendLSU calls = %d, want 0 (the newer instance should be installed, not bounced back)", len(sender.lsus))
	}

	found := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryByHeader, Header: newer.Header})
	if !found.Found || ospf2.HeaderOf(found.LSA).SequenceNumber != 2 {
		t.Fatal("the newer instance should have replaced the database's stale copy")
	}
}

func TestHandleLSUOlderIncomingSendsDatabaseCopyBackWithoutInstalling(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := &neighbor.Neighbor{IP: src, State: neighbor.Full}
	i.Neighbors = append(i.Neighbors, n)

	current := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
			SequenceNumber:    2,
		},
	}
	if err := ospf2.SetChecksumLength(current); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}
	i.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: current})

	stale := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
			SequenceNumber:    1,
		},
	}
	if err := ospf2.SetChecksumLength(stale); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}

	lsu := &ospf2.LinkStateUpdate{LSAs: []ospf2.LSA{stale}}
	i.handleLSU(lsu, src)

	if len(sender.floods) != 0 {
		t.Fatal("a stale incoming instance must not be flooded")
	}
	if len(sender.lsus) != 1 {
		t.Fatalf("SendLSU calls = %d, want 1 (the database's newer copy should be sent back)", len(sender.lsus))
	}
	if got := ospf2.HeaderOf(sender.lsus[0][0]).SequenceNumber; got != 2 {
		t.Fatalf("SendLSU sent seq %d, want the database's copy at seq 2", got)
	}

	found := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryByHeader, Header: current.Header})
	if !found.Found || ospf2.HeaderOf(found.LSA).SequenceNumber != 2 {
		t.Fatal("the database's copy must not be overwritten by the stale incoming instance")
	}
}

func TestHandleLSUDropsLSAWithInvalidChecksum(t *testing.T) {
	t.Parallel()

	i, sender := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	n := &neighbor.Neighbor{IP: src, State: neighbor.Full}
	i.Neighbors = append(i.Neighbors, n)

	l := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       ospf2.ID{10, 0, 0, 0},
			AdvertisingRouter: ospf2.ID{10, 0, 0, 2},
		},
	}
	if err := ospf2.SetChecksumLength(l); err != nil {
		t.Fatalf("SetChecksumLength: %v", err)
	}
	l.Header.Checksum ^= 0xffff // corrupt it after computing a valid one

	lsu := &ospf2.LinkStateUpdate{LSAs: []ospf2.LSA{l}}
	i.handleLSU(lsu, src)

	if len(sender.floods) != 0 || len(sender.lsacks) != 0 {
		t.Fatal("an LSA with an invalid checksum must be dropped, not flooded or acked")
	}
	if found := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryByHeader, Header: l.Header}); found.Found {
		t.Fatal("an LSA with an invalid checksum must not be installed")
	}
}

func TestHandleLSAckTrimsRetransmissionList(t *testing.T) {
	t.Parallel()

	i, _ := newPacketTestInterface(t, TypePointToPoint)
	src := net.ParseIP("10.0.0.2")
	h := ospf2.LSAHeader{Type: ospf2.LSTypeNetwork, LinkStateID: ospf2.ID{10, 0, 0, 0}, AdvertisingRouter: ospf2.ID{10, 0, 0, 2}}
	n := &neighbor.Neighbor{IP: src, State: neighbor.Full, LSARetransmission: []ospf2.LSAHeader{h}}
	i.Neighbors = append(i.Neighbors, n)

	i.handleLSAck(&ospf2.LinkStateAcknowledgement{LSAs: []ospf2.LSAHeader{h}}, src)

	if len(n.LSARetransmission) != 0 {
		t.Fatalf("len(LSARetransmission) = %d, want 0 after acknowledgment", len(n.LSARetransmission))
	}
}
