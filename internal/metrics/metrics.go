// Package metrics provides Prometheus metrics for the imagery service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the imagery service.
type Metrics struct {
	// Tile fetch metrics
	TilesFetched      *prometheus.CounterVec
	TilesFailed       *prometheus.CounterVec
	TileFetchDuration *prometheus.HistogramVec

	// Sequence metrics
	SequencesStarted  *prometheus.CounterVec
	SequenceDates     *prometheus.HistogramVec
	SequenceSuccesses *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Animation job metrics
	AnimationsCompleted *prometheus.CounterVec
	AnimationDuration   prometheus.Histogram

	// Upstream state
	RateLimited prometheus.Gauge
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "terra_imagery"
	}

	m := &Metrics{
		TilesFetched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_fetched_total",
				Help:      "Total number of tiles fetched successfully",
			},
			[]string{"layer"},
		),
		TilesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_failed_total",
				Help:      "Total number of tile fetches that failed",
			},
			[]string{"layer"},
		),
		TileFetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tile_fetch_duration_seconds",
				Help:      "Time to fetch a single tile",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"layer"},
		),
		SequencesStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequences_started_total",
				Help:      "Total number of sequence fetches started",
			},
			[]string{"layer"},
		),
		SequenceDates: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sequence_dates",
				Help:      "Number of dates per sequence request",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
			},
			[]string{"layer"},
		),
		SequenceSuccesses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sequence_dates_succeeded_total",
				Help:      "Total number of dates fetched successfully across sequences",
			},
			[]string{"layer"},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_cache_hits_total",
				Help:      "Total number of tile cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_cache_misses_total",
				Help:      "Total number of tile cache misses",
			},
		),
		AnimationsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "animations_completed_total",
				Help:      "Total number of animation jobs finished, by outcome",
			},
			[]string{"outcome"},
		),
		AnimationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "animation_duration_seconds",
				Help:      "Wall time to complete an animation job",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
		),
		RateLimited: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_rate_limited",
				Help:      "1 while the upstream provider is rate limiting us",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// ObserveTileFetch records one tile fetch outcome. Implements the
// sequence fetcher's Metrics interface.
func (m *Metrics) ObserveTileFetch(layer string, success bool, duration time.Duration) {
	if success {
		m.TilesFetched.WithLabelValues(layer).Inc()
	} else {
		m.TilesFailed.WithLabelValues(layer).Inc()
	}
	m.TileFetchDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// ObserveSequence records the shape and outcome of a sequence fetch.
func (m *Metrics) ObserveSequence(layer string, totalDates, successCount int) {
	m.SequencesStarted.WithLabelValues(layer).Inc()
	m.SequenceDates.WithLabelValues(layer).Observe(float64(totalDates))
	m.SequenceSuccesses.WithLabelValues(layer).Add(float64(successCount))
}

// ObserveAnimation records an animation job outcome and duration.
func (m *Metrics) ObserveAnimation(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.AnimationsCompleted.WithLabelValues(outcome).Inc()
	m.AnimationDuration.Observe(duration.Seconds())
}

// SetRateLimited flips the upstream rate limit gauge.
func (m *Metrics) SetRateLimited(limited bool) {
	if limited {
		m.RateLimited.Set(1)
	} else {
		m.RateLimited.Set(0)
	}
}
