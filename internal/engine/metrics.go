package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. The job counters are
// fed from the queue's settle hook; the gauges are refreshed by the
// engine's background ticker.
type Metrics struct {
	registry *prometheus.Registry

	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	StoriesTotal  prometheus.Gauge
	QueueDepth    *prometheus.GaugeVec
	PullsTotal    prometheus.Counter
}

// NewMetrics builds a dedicated registry so tests can run side by side.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoville",
			Name:      "jobs_completed_total",
			Help:      "Durable queue jobs completed, by queue.",
		}, []string{"queue"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoville",
			Name:      "jobs_failed_total",
			Help:      "Durable queue jobs failed, by queue.",
		}, []string{"queue"}),
		StoriesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoville",
			Name:      "stories_total",
			Help:      "Deduplicated stories in the store.",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scoville",
			Name:      "queue_depth",
			Help:      "Durable queue jobs by queue and state.",
		}, []string{"queue", "state"}),
		PullsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scoville",
			Name:      "pulls_triggered_total",
			Help:      "Manually triggered source pulls.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordJobSettled counts one settled durable job. Wired as the queue's
// OnJobSettled hook.
func (m *Metrics) RecordJobSettled(queue string, failed bool) {
	if failed {
		m.JobsFailed.WithLabelValues(queue).Inc()
		return
	}
	m.JobsCompleted.WithLabelValues(queue).Inc()
}
