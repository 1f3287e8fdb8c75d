package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the ingestion boundary
// and the worker pool.
type Metrics struct {
	WebhooksReceived *prometheus.CounterVec
	RunsCompleted    *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	StageDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on the given
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_webhooks_received_total",
			Help: "Webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_runs_completed_total",
			Help: "Pipeline runs by terminal status.",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remedy_worker_queue_depth",
			Help: "Events waiting for a worker.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remedy_stage_duration_seconds",
			Help:    "Wall time per orchestrator stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
	}
	reg.MustRegister(m.WebhooksReceived, m.RunsCompleted, m.QueueDepth, m.StageDuration)
	return m
}
