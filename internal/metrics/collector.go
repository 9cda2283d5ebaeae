// Package metrics provides the Prometheus collector for the workflow engine.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates engine-level Prometheus metrics. It satisfies
// workflow.Metrics for the runtime's observation hooks.
type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	debateStatements prometheus.Counter
	judgeFallbacks   prometheus.Counter

	idempotentHits   prometheus.Counter
	experimentRoutes *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the engine's metric families under the namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"status"},
	)
	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	c.nodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions by type and terminal status",
		},
		[]string{"node_type", "status"},
	)
	c.nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node_type"},
	)

	c.debateStatements = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debate_statements_total",
			Help:      "Total number of recorded debate statements",
		},
	)
	c.judgeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_fallbacks_total",
			Help:      "Total number of judge verdicts produced by the deterministic fallback",
		},
	)

	c.idempotentHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Total number of triggers deduplicated by idempotency key",
		},
	)
	c.experimentRoutes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experiment_routes_total",
			Help:      "Total number of experiment routing decisions by variant",
		},
		[]string{"variant"},
	)

	return c
}

// ObserveExecution implements workflow.Metrics.
func (c *Collector) ObserveExecution(status string, d time.Duration) {
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveNode implements workflow.Metrics.
func (c *Collector) ObserveNode(nodeType, status string, d time.Duration) {
	c.nodesTotal.WithLabelValues(nodeType, status).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

// RecordDebateStatement counts one persisted debate statement.
func (c *Collector) RecordDebateStatement() {
	c.debateStatements.Inc()
}

// RecordJudgeFallback counts one fallback verdict.
func (c *Collector) RecordJudgeFallback() {
	c.judgeFallbacks.Inc()
}

// RecordIdempotentReplay counts one deduplicated trigger.
func (c *Collector) RecordIdempotentReplay() {
	c.idempotentHits.Inc()
}

// RecordExperimentRoute counts one routing decision.
func (c *Collector) RecordExperimentRoute(variant string) {
	c.experimentRoutes.WithLabelValues(variant).Inc()
}
