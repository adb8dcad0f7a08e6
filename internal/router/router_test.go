package router

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/internal/lsdb"
	"github.com/ospf2d/ospf2d/internal/spf"
	"github.com/ospf2d/ospf2d/ospf2"
)

func TestInterfaceConfigForReturnsMatchOrZero(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Interfaces: []config.InterfaceConfig{
			{Name: "eth0", RouterPriority: 5},
			{Name: "eth1", RouterPriority: 9},
		},
	}

	if got := interfaceConfigFor(cfg, "eth1"); got.RouterPriority != 9 {
		t.Fatalf("RouterPriority = %d, want 9", got.RouterPriority)
	}
	if got := interfaceConfigFor(cfg, "eth2"); got != (config.InterfaceConfig{}) {
		t.Fatalf("interfaceConfigFor(unknown) = %+v, want zero value", got)
	}
}

func TestScheduleRecomputeCoalescesBursts(t *testing.T) {
	t.Parallel()

	r := &Router{recompute: make(chan struct{}, 1)}

	r.scheduleRecompute()
	r.scheduleRecompute()
	r.scheduleRecompute()

	select {
	case <-r.recompute:
	default:
		t.Fatal("expected exactly one pending recompute signal")
	}

	select {
	case <-r.recompute:
		t.Fatal("a second recompute signal should have been coalesced away")
	default:
	}
}

type recordingInstaller struct {
	synced [][]spf.RouteEntry
	closed bool
}

func (r *recordingInstaller) Sync(entries []spf.RouteEntry) error {
	r.synced = append(r.synced, entries)
	return nil
}

func (r *recordingInstaller) Close() error {
	r.closed = true
	return nil
}

func newTestRouterCore(t *testing.T) (*Router, *recordingInstaller, context.CancelFunc) {
	t.Helper()

	self := ospf2.ID{10, 0, 0, 1}
	db := lsdb.New(self, ospf2.ID{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	go db.Run(ctx, tick)
	t.Cleanup(cancel)

	it := spf.NewInterfaceTable()
	peer := ospf2.ID{10, 0, 0, 2}
	it.Update(peer, 0xffffffff, ospf2.ID{192, 168, 0, 1})

	installer := &recordingInstaller{}
	r := &Router{
		db:         db,
		ifaceTable: it,
		installer:  installer,
		recompute:  make(chan struct{}, 1),
		log:        slog.Default(),
	}
	return r, installer, cancel
}

func TestRecomputeOnceInstallsComputedRoutes(t *testing.T) {
	t.Parallel()

	r, installer, _ := newTestRouterCore(t)

	self := ospf2.ID{10, 0, 0, 1}
	peer := ospf2.ID{10, 0, 0, 2}
	selfLSA := &ospf2.RouterLSA{
		Header: ospf2.LSAHeader{Type: ospf2.LSTypeRouter, LinkStateID: self, AdvertisingRouter: self},
		Links:  []ospf2.RouterLink{{LinkID: peer, Type: ospf2.LinkPointToPoint, Metric: 10}},
	}
	peerLSA := &ospf2.RouterLSA{
		Header: ospf2.LSAHeader{Type: ospf2.LSTypeRouter, LinkStateID: peer, AdvertisingRouter: peer},
		Links:  []ospf2.RouterLink{{LinkID: self, Type: ospf2.LinkPointToPoint, Metric: 10}},
	}
	r.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: selfLSA})
	r.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: peerLSA})

	r.recomputeOnce()

	table := r.Routes()
	if table == nil {
		t.Fatal("Routes() = nil after recomputeOnce")
	}
	entries := table.Entries()
	if len(entries) != 1 || entries[0].DestID != peer {
		t.Fatalf("entries = %+v, want one entry for %v", entries, peer)
	}
	if entries[0].IfaceAddr != (ospf2.ID{192, 168, 0, 1}) {
		t.Fatalf("IfaceAddr = %v, want the interface table's resolved egress", entries[0].IfaceAddr)
	}

	if len(installer.synced) != 1 {
		t.Fatalf("installer.Sync was called %d times, want 1", len(installer.synced))
	}
}

func TestReportNeighborMetricsNilIsNoop(t *testing.T) {
	t.Parallel()

	r := &Router{}
	// Must not panic even though r.metrics is nil and i has no neighbors.
	r.reportNeighborMetrics(nil, nil)
}
