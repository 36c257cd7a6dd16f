// Package metrics exposes the Prometheus counters and histograms shared by
// the resolution, validation, and conversion engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline is the process-wide metrics registry, mirroring the way every
// engine in this repo logs and counts its own work.
var Pipeline = struct {
	ASINLookupDuration   *prometheus.HistogramVec
	ASINLookupsTotal     *prometheus.CounterVec
	ASINCacheHits        prometheus.Counter
	ASINCacheMisses      prometheus.Counter
	GovernorDelaySeconds *prometheus.HistogramVec
	GovernorBackoffs     *prometheus.CounterVec
	CircuitBreakerTrips  *prometheus.CounterVec

	ValidationDuration prometheus.Histogram
	ValidationResults  *prometheus.CounterVec
	ValidationCacheHits prometheus.Counter

	ConversionDuration *prometheus.HistogramVec
	ConversionResults  *prometheus.CounterVec
}{
	ASINLookupDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calibre_pipeline_asin_lookup_duration_seconds",
		Help:    "Duration of a single ASIN source adapter lookup",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"source"}),
	ASINLookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calibre_pipeline_asin_lookups_total",
		Help: "Total ASIN lookups by source and outcome",
	}, []string{"source", "outcome"}),
	ASINCacheHits: promauto.NewCounter(prometheus.CounterOpts{
		Name: "calibre_pipeline_asin_cache_hits_total",
		Help: "Total ASIN cache hits",
	}),
	ASINCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
		Name: "calibre_pipeline_asin_cache_misses_total",
		Help: "Total ASIN cache misses",
	}),
	GovernorDelaySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calibre_pipeline_governor_delay_seconds",
		Help:    "Delay observed waiting for the per-host rate governor",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"host"}),
	GovernorBackoffs: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calibre_pipeline_governor_backoffs_total",
		Help: "Total backoff events by host",
	}, []string{"host"}),
	CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calibre_pipeline_circuit_breaker_trips_total",
		Help: "Total circuit breaker trips by host",
	}, []string{"host"}),

	ValidationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calibre_pipeline_validation_duration_seconds",
		Help:    "Duration of a directory validation run",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	}),
	ValidationResults: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calibre_pipeline_validation_results_total",
		Help: "Total validation results by status",
	}, []string{"status"}),
	ValidationCacheHits: promauto.NewCounter(prometheus.CounterOpts{
		Name: "calibre_pipeline_validation_cache_hits_total",
		Help: "Total validation cache hits",
	}),

	ConversionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calibre_pipeline_conversion_duration_seconds",
		Help:    "Duration of a single conversion job",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"format"}),
	ConversionResults: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calibre_pipeline_conversion_results_total",
		Help: "Total conversion results by status",
	}, []string{"format", "status"}),
}
