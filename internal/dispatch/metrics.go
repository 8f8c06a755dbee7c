package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts allocator outcomes for monitoring over-allocation pressure
// and slip collisions.
type Metrics struct {
	commits     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	collisions  prometheus.Counter
}

// NewMetrics registers dispatch counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_dispatch_commits_total",
		Help: "Dispatch commit attempts by type and outcome.",
	}, []string{"type", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_pick_transitions_total",
		Help: "Internal pick state transitions by result.",
	}, []string{"transition", "outcome"})
	collisions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mise_slip_number_collisions_total",
		Help: "Packing slip number collisions that triggered a retry.",
	})
	reg.MustRegister(commits, transitions, collisions)
	return &Metrics{commits: commits, transitions: transitions, collisions: collisions}
}

func (m *Metrics) commit(dispatchType Type, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(string(dispatchType), outcome).Inc()
}

func (m *Metrics) transition(name, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) slipCollision() {
	if m == nil {
		return
	}
	m.collisions.Inc()
}
