// Package router wires together the link state database, the packet
// sender, and one task per network interface into a running OSPFv2
// instance, and recomputes the SPF route table whenever the database
// changes.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/internal/fib"
	"github.com/ospf2d/ospf2d/internal/iface"
	"github.com/ospf2d/ospf2d/internal/lsdb"
	"github.com/ospf2d/ospf2d/internal/metrics"
	"github.com/ospf2d/ospf2d/internal/spf"
	"github.com/ospf2d/ospf2d/ospf2"
)

// A Link describes one network interface this router should run OSPFv2 on,
// already resolved to its IPv4 address, network mask, and RFC2328 network
// type.
type Link struct {
	Ifi  *net.Interface
	Addr net.IP
	Mask net.IP
	Type iface.Type
}

// A Router owns the database task, the sender task, and every interface
// task that make up a single running OSPFv2 instance.
type Router struct {
	config config.Config

	db         *lsdb.Database
	sender     *PacketSender
	interfaces []*iface.Interface
	conns      map[string]*ospf2.Conn

	ifaceTable *spf.InterfaceTable
	installer  fib.RouteInstaller
	metrics    *metrics.Metrics

	recompute chan struct{}
	routes    atomic.Pointer[spf.Table]

	log *slog.Logger
}

// New builds a Router over links, binding a socket per interface. installer
// may be nil, in which case computed routes are discarded
// (fib.NewNoopInstaller). reg may be nil to run without Prometheus metrics.
func New(cfg config.Config, links []Link, installer fib.RouteInstaller, reg prometheus.Registerer, log *slog.Logger) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	if installer == nil {
		installer = fib.NewNoopInstaller(log)
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	db := lsdb.New(cfg.RouterID, cfg.AreaID, log)
	sender := NewPacketSender(make(map[string]*ospf2.Conn, len(links)), cfg.Options, cfg.DefaultMTU, log)

	r := &Router{
		config:     cfg,
		db:         db,
		sender:     sender,
		conns:      sender.conns,
		ifaceTable: spf.NewInterfaceTable(),
		installer:  installer,
		metrics:    m,
		recompute:  make(chan struct{}, 1),
		log:        log.With("component", "router"),
	}

	for _, l := range links {
		conn, err := ospf2.Listen(l.Ifi)
		if err != nil {
			for _, c := range r.conns {
				c.Close()
			}
			return nil, fmt.Errorf("router: failed to listen on %s: %w", l.Ifi.Name, err)
		}
		r.conns[l.Ifi.Name] = conn

		ic := interfaceConfigFor(cfg, l.Ifi.Name)
		i := iface.New(l.Ifi, l.Addr, l.Mask, l.Type, cfg, ic, db, sender, log)
		r.interfaces = append(r.interfaces, i)

		var id ospf2.ID
		copy(id[:], l.Addr.To4())
		r.ifaceTable.Update(id, ipToUint32(l.Mask), id)
	}

	db.OnChange = r.scheduleRecompute

	return r, nil
}

func interfaceConfigFor(cfg config.Config, name string) config.InterfaceConfig {
	for _, ic := range cfg.Interfaces {
		if ic.Name == name {
			return ic
		}
	}
	return config.InterfaceConfig{}
}

// scheduleRecompute signals the recompute loop without blocking. It is
// called synchronously from the Database's own goroutine (as OnChange), so
// it must never call back into the Database.
func (r *Router) scheduleRecompute() {
	select {
	case r.recompute <- struct{}{}:
	default:
	}
}

// Routes returns the most recently computed route table. It is safe to call
// concurrently with Run.
func (r *Router) Routes() *spf.Table {
	return r.routes.Load()
}

// Run starts the database task, the sender task, the SPF recompute task,
// and one task per interface, and blocks until ctx is canceled and every
// task has returned. The tasks never report failure themselves, so Run
// returns ctx's error, or nil.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	g.Go(func() error {
		r.db.Run(gctx, tick.C)
		return nil
	})

	g.Go(func() error {
		r.sender.Run(gctx)
		return nil
	})

	g.Go(func() error {
		r.recomputeLoop(gctx)
		return nil
	})

	for _, i := range r.interfaces {
		i := i
		g.Go(func() error {
			r.runInterface(gctx, i)
			return nil
		})
	}

	<-gctx.Done()

	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			r.log.Error("failed to close connection", "interface", name, "error", err)
		}
	}
	if err := r.installer.Close(); err != nil {
		r.log.Error("failed to close route installer", "error", err)
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// runInterface is the per-interface task: a single loop alternating between
// polling this interface's timers and reading the next packet, mirroring
// original_source's single-threaded receiver() loop so CheckTimers and
// HandlePacket never touch the same Interface concurrently.
func (r *Router) runInterface(ctx context.Context, i *iface.Interface) {
	i.HandleEvent(iface.EventInterfaceUp)

	conn := r.conns[i.Name]
	lastState := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			i.HandleEvent(iface.EventInterfaceDown)
			return
		default:
		}

		i.CheckTimers(ctx)
		r.reportNeighborMetrics(i, lastState)

		if err := conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			r.log.Error("failed to set read deadline", "interface", i.Name, "error", err)
			return
		}

		p, src, err := conn.ReadFrom()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			r.log.Error("failed to read packet", "interface", i.Name, "error", err)
			continue
		}

		if src.IP.Equal(i.Addr) {
			continue
		}
		i.HandlePacket(p, src.IP)
	}
}

func (r *Router) reportNeighborMetrics(i *iface.Interface, last map[string]string) {
	if r.metrics == nil {
		return
	}
	for _, n := range i.Neighbors {
		cur := n.State.String()
		key := n.IP.String()
		if last[key] == cur {
			continue
		}
		last[key] = cur
		r.metrics.NeighborTransition(i.Name, n.ID.String(), n.State)
	}
}

// recomputeLoop runs SPF and reconciles the route installer every time the
// database signals a change, coalescing bursts of changes into a single
// recompute (scheduleRecompute only ever queues one pending signal).
func (r *Router) recomputeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.recompute:
			r.recomputeOnce()
		}
	}
}

func (r *Router) recomputeOnce() {
	start := time.Now()

	resp := r.db.Do(lsdb.Request{Type: lsdb.ReqQueryAll})
	table := spf.Compute(r.db.RouterID, resp.LSAList, r.ifaceTable)
	r.routes.Store(table)

	r.metrics.ObserveSPFRun(time.Since(start).Seconds())
	r.metrics.SetLSDBSize(len(resp.LSAList))

	entries := table.Entries()
	r.metrics.SetRoutesInstalled(len(entries))

	if err := r.installer.Sync(entries); err != nil {
		r.log.Error("failed to sync computed route table", "error", err)
	}
}
