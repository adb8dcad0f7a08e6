package iface

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/ospf2d/ospf2d/internal/neighbor"
	"github.com/ospf2d/ospf2d/ospf2"
)

func mkCandidate(ip string, pri uint8, dr, bdr string) candidate {
	return candidate{
		ip:       net.ParseIP(ip),
		priority: pri,
		dr:       net.ParseIP(dr),
		bdr:      net.ParseIP(bdr),
	}
}

func TestElectOnceDRPrefersHighestPriority(t *testing.T) {
	t.Parallel()

	candidates := []candidate{
		mkCandidate("10.0.0.1", 1, "10.0.0.1", "0.0.0.0"),
		mkCandidate("10.0.0.2", 2, "10.0.0.2", "0.0.0.0"),
	}

	dr, ok := electOnceDR(candidates)
	if !ok || !dr.Equal(net.ParseIP("10.0.0.2")) {
		t.Fatalf("electOnceDR = %v, %v, want 10.0.0.2, true", dr, ok)
	}
}

func TestElectOnceDRNoDeclaration(t *testing.T) {
	t.Parallel()

	candidates := []candidate{
		mkCandidate("10.0.0.1", 1, "0.0.0.0", "10.0.0.1"),
		mkCandidate("10.0.0.2", 2, "0.0.0.0", "10.0.0.2"),
	}

	if _, ok := electOnceDR(candidates); ok {
		t.Fatal("electOnceDR should find no DR when nobody declares one")
	}
}

func TestElectOnceBDRExcludesDRDeclared(t *testing.T) {
	t.Parallel()

	candidates := []candidate{
		mkCandidate("10.0.0.1", 2, "10.0.0.1", "0.0.0.0"), // declares DR, ineligible for BDR
		mkCandidate("10.0.0.2", 1, "10.0.0.1", "10.0.0.2"), // declares BDR
	}

	bdr, ok := electOnceBDR(candidates, true)
	if !ok || !bdr.Equal(net.ParseIP("10.0.0.2")) {
		t.Fatalf("electOnceBDR = %v, %v, want 10.0.0.2, true", bdr, ok)
	}
}

func newTestInterface(t *testing.T, typ Type) *Interface {
	t.Helper()
	return &Interface{
		Name:           "eth0",
		Type:           typ,
		Addr:           net.ParseIP("10.0.0.1"),
		DR:             net.IPv4zero,
		BDR:            net.IPv4zero,
		RouterPriority: 1,
		lastNbrState:   make(map[string]neighbor.State),
		log:            slog.Default(),
	}
}

func TestAdjacencyEligiblePointToPointAlwaysTrue(t *testing.T) {
	t.Parallel()

	i := newTestInterface(t, TypePointToPoint)
	n := &neighbor.Neighbor{IP: net.ParseIP("10.0.0.2")}

	if !i.adjacencyEligible(n) {
		t.Fatal("point-to-point links should always be adjacency eligible")
	}
}

func TestAdjacencyEligibleBroadcastRequiresDRorBDR(t *testing.T) {
	t.Parallel()

	i := newTestInterface(t, TypeBroadcast)
	i.DR = net.ParseIP("10.0.0.9")
	i.BDR = net.ParseIP("10.0.0.10")

	other := &neighbor.Neighbor{IP: net.ParseIP("10.0.0.3")}
	if i.adjacencyEligible(other) {
		t.Fatal("a DROther-to-DROther pair should not be adjacency eligible on broadcast links")
	}

	dr := &neighbor.Neighbor{IP: net.ParseIP("10.0.0.9")}
	if !i.adjacencyEligible(dr) {
		t.Fatal("the segment's DR should always be adjacency eligible")
	}

	i.State = DR
	if !i.adjacencyEligible(other) {
		t.Fatal("every neighbor is adjacency eligible from the DR's own perspective")
	}
}

func TestElectDRBDRSelfPromotesWhenNoBDRDeclared(t *testing.T) {
	t.Parallel()

	i := newTestInterface(t, TypeBroadcast)
	i.Addr = net.ParseIP("10.0.0.1")
	i.RouterPriority = 1

	peer := neighbor.New(&ospf2.Hello{
		RouterPriority:     1,
		DesignatedRouterID: ospf2.ID{10, 0, 0, 2},
	}, ospf2.ID{}, net.ParseIP("10.0.0.2"), 40*time.Second, 5*time.Second, nil)
	peer.State = neighbor.TwoWay
	i.Neighbors = []*neighbor.Neighbor{peer}
	i.sender = noopSender{}
	i.db = nil
	// Seed lastNbrState as if this neighbor was already known at TwoWay,
	// so the AdjOK dispatch below doesn't also trip a spurious
	// NeighborChange re-election (which would need a live database).
	i.lastNbrState[peer.IP.String()] = neighbor.TwoWay

	i.electDRBDR()

	if !i.DR.Equal(net.ParseIP("10.0.0.2")) {
		t.Fatalf("DR = %v, want 10.0.0.2 (the only declared DR)", i.DR)
	}
	if !i.BDR.Equal(i.Addr) {
		t.Fatalf("BDR = %v, want self (%v) after self-promotion", i.BDR, i.Addr)
	}
	if i.State != BDR {
		t.Fatalf("State = %v, want BDR", i.State)
	}
}

type noopSender struct{}

func (noopSender) SendHello(*Interface) error { return nil }
func (noopSender) SendDBD(*Interface, *neighbor.Neighbor, ospf2.DDFlags, uint32, []ospf2.LSAHeader) error {
	return nil
}
func (noopSender) SendLSR(*Interface, *neighbor.Neighbor, []ospf2.LSRequest) error { return nil }
func (noopSender) SendLSU(*Interface, net.IP, []ospf2.LSA) error                  { return nil }
func (noopSender) FloodLSU(*Interface, []ospf2.LSA, *neighbor.Neighbor) error      { return nil }
func (noopSender) SendLSAck(*Interface, net.IP, []ospf2.LSAHeader) error           { return nil }
