package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

// MetricsSnapshot is a point-in-time view of the in-process counters.
type MetricsSnapshot struct {
	Runs        int64
	NodesTotal  int64
	NodesFailed int64
}

// Metrics counts runs and node executions. Counters are kept twice: cheap
// atomics for in-process snapshots and Prometheus collectors for scraping.
type Metrics struct {
	graph.BaseMiddleware

	runs        atomic.Int64
	nodesTotal  atomic.Int64
	nodesFailed atomic.Int64

	runCounter   *prometheus.CounterVec
	nodeCounter  *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
}

// NewMetrics builds the middleware and registers its collectors. A nil
// registerer keeps the atomics only.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Subsystem: "graph",
			Name:      "runs_total",
			Help:      "Completed graph runs by final status.",
		}, []string{"graph", "status"}),
		nodeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spice",
			Subsystem: "graph",
			Name:      "node_executions_total",
			Help:      "Node executions by outcome.",
		}, []string{"node", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spice",
			Subsystem: "graph",
			Name:      "node_duration_seconds",
			Help:      "Node execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
	}
	if reg != nil {
		reg.MustRegister(m.runCounter, m.nodeCounter, m.nodeDuration)
	}
	return m
}

func (m *Metrics) OnNode(ctx context.Context, req graph.NodeRequest, next func() result.Result[graph.NodeResult]) result.Result[graph.NodeResult] {
	start := time.Now()
	res := next()
	elapsed := time.Since(start)

	m.nodesTotal.Add(1)
	outcome := "success"
	if res.IsFailure() {
		m.nodesFailed.Add(1)
		outcome = "failure"
	}
	m.nodeCounter.WithLabelValues(req.NodeID, outcome).Inc()
	m.nodeDuration.WithLabelValues(req.NodeID).Observe(elapsed.Seconds())
	return res
}

func (m *Metrics) OnFinish(report graph.RunReport) {
	m.runs.Add(1)
	m.runCounter.WithLabelValues(report.GraphID, string(report.Status)).Inc()
}

// Snapshot reads the atomic counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Runs:        m.runs.Load(),
		NodesTotal:  m.nodesTotal.Load(),
		NodesFailed: m.nodesFailed.Load(),
	}
}

// Name identifies the middleware in checkpoint state.
func (m *Metrics) Name() string { return "metrics" }

// StateSnapshot exposes the counters for checkpointing.
func (m *Metrics) StateSnapshot() map[string]any {
	snap := m.Snapshot()
	return map[string]any{
		"runs":         snap.Runs,
		"nodes_total":  snap.NodesTotal,
		"nodes_failed": snap.NodesFailed,
	}
}
