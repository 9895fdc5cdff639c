// Package metrics exposes Prometheus instrumentation for the processing
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics for transaction processing.
type Collector struct {
	registry *prometheus.Registry

	processed *prometheus.CounterVec
	flagged   prometheus.Counter
	duration  prometheus.Histogram
	scores    prometheus.Histogram
}

// NewCollector creates a collector with its own registry so tests can run
// in parallel without duplicate registration panics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "transactions_processed_total",
			Help:      "Transactions processed, labeled by outcome.",
		}, []string{"outcome"}),
		flagged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "transactions_flagged_total",
			Help:      "Transactions whose fraud score crossed the threshold.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end processing time per transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		scores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "fraud_score",
			Help:      "Distribution of computed fraud scores.",
			Buckets:   []float64{0, 10, 25, 50, 60, 75, 100, 150, 200},
		}),
	}
}

// RecordProcessed records a successfully scored transaction.
func (c *Collector) RecordProcessed(score int, isFlagged bool, seconds float64) {
	c.processed.WithLabelValues("ok").Inc()
	c.duration.Observe(seconds)
	c.scores.Observe(float64(score))
	if isFlagged {
		c.flagged.Inc()
	}
}

// RecordRejected records a payload that failed validation.
func (c *Collector) RecordRejected() {
	c.processed.WithLabelValues("rejected").Inc()
}

// RecordFailed records a processing failure after validation.
func (c *Collector) RecordFailed() {
	c.processed.WithLabelValues("error").Inc()
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
