// Package metrics records retry, streaming and deployment outcomes in a
// Prometheus registry. A CLI process is short-lived, so instead of serving
// /metrics the registry is written out in text exposition format for a
// node_exporter textfile collector.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cloudship"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	attempts         *prometheus.CounterVec
	exhausted        *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	malformedRecords *prometheus.CounterVec
	deployments      *prometheus.CounterVec
	deployDuration   prometheus.Histogram
	uploadBytes      prometheus.Counter
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_attempts_total",
			Help:      "Failed network attempts by operation and classification",
		}, []string{"operation", "class"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_budget_exhausted_total",
			Help:      "Retry loops that ran out of attempts or time",
		}, []string{"operation", "budget"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Stream reconnects by reason",
		}, []string{"stream", "reason"}),
		malformedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "malformed_records_total",
			Help:      "Streamed records skipped because they failed to parse",
		}, []string{"stream"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployment runs by outcome",
		}, []string{"outcome"}),
		deployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Wall-clock duration of deployment runs",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Archive bytes transferred to upload targets",
		}),
	}
	m.registry.MustRegister(
		m.attempts,
		m.exhausted,
		m.reconnects,
		m.malformedRecords,
		m.deployments,
		m.deployDuration,
		m.uploadBytes,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAttempt counts a failed attempt.
func (m *Metrics) ObserveAttempt(operation, class string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, class).Inc()
}

// ObserveExhausted counts a retry loop that gave up.
func (m *Metrics) ObserveExhausted(operation, budget string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(operation, budget).Inc()
}

// ObserveReconnect counts a stream reconnect.
func (m *Metrics) ObserveReconnect(stream, reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(stream, reason).Inc()
}

// ObserveMalformed counts a skipped stream record.
func (m *Metrics) ObserveMalformed(stream string) {
	if m == nil {
		return
	}
	m.malformedRecords.WithLabelValues(stream).Inc()
}

// ObserveDeployment records the outcome and duration of a deployment run.
func (m *Metrics) ObserveDeployment(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(outcome).Inc()
	m.deployDuration.Observe(d.Seconds())
}

// ObserveUpload adds transferred archive bytes.
func (m *Metrics) ObserveUpload(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

// WriteTextfile writes the registry to path in text exposition format.
// The write is atomic, so a collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
