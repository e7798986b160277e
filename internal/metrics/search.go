// Package metrics defines the Prometheus metrics exported by dermamatch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dermamatch"

// Search and index metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Similarity search duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"status"},
	)

	SearchStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_stage_failures_total",
			Help:      "Searches that failed, by the stage that failed",
		},
		[]string{"stage"},
	)

	SearchPartialResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_partial_results_total",
			Help:      "Searches that returned fewer than k results after filtering",
		},
	)

	SearchLowConfidenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_low_confidence_total",
			Help:      "Searches whose query embedding was padded, truncated or sanitized",
		},
	)

	FusionCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fusion_cache_total",
			Help:      "Fusion cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	RebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Index rebuilds by outcome",
		},
		[]string{"status"},
	)

	RebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Index rebuild duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	RebuildSkippedRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rebuild_skipped_records",
			Help:      "Records excluded by the last successful rebuild",
		},
	)

	IndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_size",
			Help:      "Vectors in the live index",
		},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers the search and index metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		SearchDuration,
		SearchStageFailuresTotal,
		SearchPartialResultsTotal,
		SearchLowConfidenceTotal,
		FusionCacheTotal,
		RebuildsTotal,
		RebuildDuration,
		RebuildSkippedRecords,
		IndexSize,
	)
	searchMetricsRegistered = true
}
