// Package middleware provides cross-cutting concerns for the execution
// engine: metrics collection and trace observation adapters that plug
// into the engine's ports.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-loom/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of node executions,
// skips, fallbacks, failures, and latency distributions for the
// execution engine.
type PrometheusMetrics struct {
	nodeExecutions   *prometheus.CounterVec
	nodeEvents       *prometheus.CounterVec
	invocations      *prometheus.CounterVec
	executionLatency *prometheus.HistogramVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and
// registers all required metrics with the given registerer. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		nodeExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dag_node_executions_total",
				Help: "Total number of node body executions by terminal status.",
			},
			[]string{"graph", "node", "status"},
		),
		nodeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dag_node_events_total",
				Help: "Node lifecycle events: skips, fallback activations, failures.",
			},
			[]string{"event", "graph", "node"},
		),
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dag_invocations_total",
				Help: "Total number of engine invocations by terminal status.",
			},
			[]string{"graph", "status"},
		),
		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dag_execution_duration_seconds",
				Help:    "Execution time of node bodies and whole invocations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "graph"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dag_scheduler_state",
				Help: "Current scheduler state values, such as inflight task count.",
			},
			[]string{"metric", "graph"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(operation, labels["graph"]).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by
// incrementing Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "node_executions_total":
		pm.nodeExecutions.WithLabelValues(
			labels["graph"],
			labels["node"],
			labels["status"],
		).Add(value)
	case "node_skipped_total", "node_fallback_total", "node_failure_total":
		event := metric[len("node_") : len(metric)-len("_total")]
		pm.nodeEvents.WithLabelValues(event, labels["graph"], labels["node"]).Add(value)
	case "invocations_total":
		pm.invocations.WithLabelValues(labels["graph"], labels["status"]).Add(value)
	default:
		pm.nodeEvents.WithLabelValues(metric, labels["graph"], labels["node"]).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric, labels["graph"]).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by
// recording values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	pm.executionLatency.WithLabelValues(metric, labels["graph"]).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements
// MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
