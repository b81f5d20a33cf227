package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus instrumentation for C9/C10, adapted from the
// teacher's PrometheusMetrics (graph/metrics.go): the same gauge/histogram/
// counter shape, relabeled for executions and nodes instead of runs and
// graph steps, and with merge-conflict tracking replaced by backtrack
// tracking since this engine has no concurrent-reducer merge step.
//
// All methods are nil-receiver safe: a nil *Metrics records nothing, so
// callers can embed `metrics *Metrics` in Executor/Dispatcher and invoke it
// unconditionally.
type Metrics struct {
	activeExecutions prometheus.Gauge
	inflightNodes    prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries     *prometheus.CounterVec
	backtracks  *prometheus.CounterVec
	joinWaits   *prometheus.HistogramVec
	reviews     *prometheus.CounterVec

	enabled bool
}

// NewMetrics registers the hensu_* metric family with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hensu",
			Name:      "active_executions",
			Help:      "Number of executions currently running on this server node",
		}),
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hensu",
			Name:      "inflight_nodes",
			Help:      "Number of nodes currently dispatched, including fork branches",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hensu",
			Name:      "step_latency_ms",
			Help:      "Node dispatch duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "node_type", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hensu",
			Name:      "retries_total",
			Help:      "Failure-transition-driven retries, by node",
		}, []string{"node_id"}),
		backtracks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hensu",
			Name:      "backtracks_total",
			Help:      "Backtrack events, by node and trigger",
		}, []string{"node_id", "trigger"}), // trigger: auto_rubric, review
		joinWaits: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hensu",
			Name:      "join_wait_ms",
			Help:      "Time a Join node spent waiting on its branches",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		}, []string{"node_id", "outcome"}), // outcome: success, timeout, branch_failure
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hensu",
			Name:      "review_decisions_total",
			Help:      "Review Gate decisions, by node and kind",
		}, []string{"node_id", "kind"}), // kind: Approve, Reject, Backtrack, Pause
	}
}

// RecordStepLatency records a node's dispatch duration.
func (m *Metrics) RecordStepLatency(nodeID, nodeType, outcome string, latency time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.stepLatency.WithLabelValues(nodeID, nodeType, outcome).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries records a Failure-transition retry.
func (m *Metrics) IncrementRetries(nodeID string) {
	if m == nil || !m.enabled {
		return
	}
	m.retries.WithLabelValues(nodeID).Inc()
}

// IncrementBacktracks records a backtrack, auto or review-driven.
func (m *Metrics) IncrementBacktracks(nodeID, trigger string) {
	if m == nil || !m.enabled {
		return
	}
	m.backtracks.WithLabelValues(nodeID, trigger).Inc()
}

// RecordJoinWait records how long a Join node waited on its branches.
func (m *Metrics) RecordJoinWait(nodeID, outcome string, wait time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.joinWaits.WithLabelValues(nodeID, outcome).Observe(float64(wait.Milliseconds()))
}

// IncrementReviewDecisions records a Review Gate decision.
func (m *Metrics) IncrementReviewDecisions(nodeID, kind string) {
	if m == nil || !m.enabled {
		return
	}
	m.reviews.WithLabelValues(nodeID, kind).Inc()
}

// IncActiveExecutions/DecActiveExecutions track executions currently
// running on this server node.
func (m *Metrics) IncActiveExecutions() {
	if m == nil || !m.enabled {
		return
	}
	m.activeExecutions.Inc()
}

func (m *Metrics) DecActiveExecutions() {
	if m == nil || !m.enabled {
		return
	}
	m.activeExecutions.Dec()
}

// IncInflightNodes/DecInflightNodes track concurrently dispatched nodes,
// including fork branches.
func (m *Metrics) IncInflightNodes() {
	if m == nil || !m.enabled {
		return
	}
	m.inflightNodes.Inc()
}

func (m *Metrics) DecInflightNodes() {
	if m == nil || !m.enabled {
		return
	}
	m.inflightNodes.Dec()
}
