// Package metrics exposes the daemon's internal state as Prometheus
// collectors: neighbor state transitions, link state database size, and SPF
// run duration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ospf2d/ospf2d/internal/neighbor"
)

// Metrics holds every collector registered by the daemon. A nil *Metrics is
// safe to use: every method on it is a no-op, so callers that run without a
// registry configured don't need to guard every call site.
type Metrics struct {
	neighborTransitions *prometheus.CounterVec
	neighborState       *prometheus.GaugeVec
	lsdbSize            prometheus.Gauge
	spfRunDuration      prometheus.Histogram
	spfRunsTotal        prometheus.Counter
	routesInstalled     prometheus.Gauge
}

// New creates a Metrics instance and registers its collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		neighborTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospf2d",
			Subsystem: "neighbor",
			Name:      "state_transitions_total",
			Help:      "Total number of neighbor FSM state transitions, labeled by interface, neighbor ID, and resulting state.",
		}, []string{"interface", "neighbor_id", "state"}),
		neighborState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ospf2d",
			Subsystem: "neighbor",
			Name:      "state",
			Help:      "Current neighbor FSM state (1 if the neighbor is in this state, 0 otherwise), labeled by interface, neighbor ID, and state.",
		}, []string{"interface", "neighbor_id", "state"}),
		lsdbSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ospf2d",
			Subsystem: "lsdb",
			Name:      "lsa_count",
			Help:      "Number of LSAs currently held in the link state database.",
		}),
		spfRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ospf2d",
			Subsystem: "spf",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of each SPF (Dijkstra) run.",
			Buckets:   prometheus.DefBuckets,
		}),
		spfRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ospf2d",
			Subsystem: "spf",
			Name:      "runs_total",
			Help:      "Total number of completed SPF runs.",
		}),
		routesInstalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ospf2d",
			Subsystem: "fib",
			Name:      "routes_installed",
			Help:      "Number of routes in the most recently computed route table.",
		}),
	}

	reg.MustRegister(
		m.neighborTransitions,
		m.neighborState,
		m.lsdbSize,
		m.spfRunDuration,
		m.spfRunsTotal,
		m.routesInstalled,
	)
	return m
}

// NeighborTransition records a neighbor FSM transition to state on the
// given interface.
func (m *Metrics) NeighborTransition(ifaceName, neighborID string, state neighbor.State) {
	if m == nil {
		return
	}
	m.neighborTransitions.WithLabelValues(ifaceName, neighborID, state.String()).Inc()

	for _, s := range neighbor.AllStates() {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.neighborState.WithLabelValues(ifaceName, neighborID, s.String()).Set(v)
	}
}

// SetLSDBSize records the current number of LSAs held in the database.
func (m *Metrics) SetLSDBSize(n int) {
	if m == nil {
		return
	}
	m.lsdbSize.Set(float64(n))
}

// ObserveSPFRun records the duration of a completed SPF run, in seconds.
func (m *Metrics) ObserveSPFRun(seconds float64) {
	if m == nil {
		return
	}
	m.spfRunDuration.Observe(seconds)
	m.spfRunsTotal.Inc()
}

// SetRoutesInstalled records the size of the most recently computed route
// table.
func (m *Metrics) SetRoutesInstalled(n int) {
	if m == nil {
		return
	}
	m.routesInstalled.Set(float64(n))
}
