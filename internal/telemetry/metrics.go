package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the classification service.
type Metrics struct {
	ClassificationTotal *prometheus.CounterVec
	ClassificationMs    *prometheus.HistogramVec
	BackendFailureTotal *prometheus.CounterVec
	FallbackTotal       *prometheus.CounterVec
	SteeringTotal       prometheus.Counter
	AlertTotal          *prometheus.CounterVec
	RateLimitHitTotal   *prometheus.CounterVec
	UsageDroppedTotal   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClassificationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinsafe_classification_total",
			Help: "Completed classifications by verdict and source.",
		}, []string{"status", "source", "model"}),

		ClassificationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinsafe_classification_duration_ms",
			Help:    "Classification latency in milliseconds, backend call included.",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		}, []string{"source"}),

		BackendFailureTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinsafe_backend_failure_total",
			Help: "Failed backend calls by backend and failure kind.",
		}, []string{"backend", "kind"}),

		FallbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinsafe_heuristic_fallback_total",
			Help: "Classifications answered by the heuristic, by reason.",
		}, []string{"reason"}),

		SteeringTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kinsafe_steering_override_total",
			Help: "SAFE backend verdicts raised because the message tried to dictate its verdict.",
		}),

		AlertTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinsafe_guardian_alert_total",
			Help: "Verdicts flagged for guardian review, by severity.",
		}, []string{"severity"}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinsafe_rate_limit_hit_total",
			Help: "Requests rejected by rate limiting, by scope.",
		}, []string{"scope"}),

		UsageDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kinsafe_usage_log_dropped_total",
			Help: "Usage log entries dropped because the write queue was full.",
		}),
	}
}

func (m *Metrics) RecordClassification(status, source, model string, elapsed time.Duration) {
	m.ClassificationTotal.WithLabelValues(status, source, model).Inc()
	m.ClassificationMs.WithLabelValues(source).Observe(float64(elapsed.Microseconds()) / 1000)
}

func (m *Metrics) RecordBackendFailure(backend, kind string) {
	m.BackendFailureTotal.WithLabelValues(backend, kind).Inc()
}

func (m *Metrics) RecordFallback(reason string) {
	m.FallbackTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSteeringOverride() {
	m.SteeringTotal.Inc()
}

func (m *Metrics) RecordAlert(severity string) {
	m.AlertTotal.WithLabelValues(severity).Inc()
}

// RecordRateLimitHit counts a rejection; scope is "rpm" or "daily".
func (m *Metrics) RecordRateLimitHit(scope string) {
	m.RateLimitHitTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) RecordUsageDropped() {
	m.UsageDroppedTotal.Inc()
}
