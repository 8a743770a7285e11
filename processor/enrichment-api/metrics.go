package enrichmentapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the component's Prometheus collectors on a private
// registry so multiple component instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	recordsProcessed prometheus.Counter
	recordFailures   prometheus.Counter
	fieldUpdates     *prometheus.CounterVec
	duration         prometheus.Histogram
}

// NewMetrics creates the component's metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "awardflow",
			Subsystem: "enrichment",
			Name:      "records_processed_total",
			Help:      "Worker records that completed enrichment.",
		}),
		recordFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "awardflow",
			Subsystem: "enrichment",
			Name:      "record_failures_total",
			Help:      "Worker records that terminated with a fatal error update.",
		}),
		fieldUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "awardflow",
			Subsystem: "enrichment",
			Name:      "field_updates_total",
			Help:      "Field updates emitted, by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "awardflow",
			Subsystem: "enrichment",
			Name:      "record_duration_seconds",
			Help:      "End-to-end enrichment duration per record.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// Handler serves the metric set in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpdate records one emitted field update.
func (m *Metrics) ObserveUpdate(isError bool) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.fieldUpdates.WithLabelValues(outcome).Inc()
}
