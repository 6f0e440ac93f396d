// Package metrics holds the Prometheus collectors shared by the registry,
// the recommendation engine and the model client. They register with the
// default registry and are exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation engine
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendations_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"}, // "success", "empty", or an error code
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommendation_duration_seconds",
			Help:    "End-to-end latency of one recommendation request",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScoringBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scoring_batch_size",
			Help:    "Number of candidates submitted in one scoring call",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. 16384
		},
	)

	WarehouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warehouse_query_duration_seconds",
			Help:    "Duration of warehouse queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Endpoint registry
	EndpointResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endpoint_resolutions_total",
			Help: "Endpoint resolutions by path taken",
		},
		[]string{"path"}, // "cached", "found", "trained", "failed"
	)

	RegistryState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "endpoint_registry_state",
			Help: "Current registry state (0 unresolved .. 6 failed)",
		},
	)

	LifecyclePhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifecycle_phase_duration_seconds",
			Help:    "Duration of dataset creation, training and deployment",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 21600},
		},
		[]string{"phase"},
	)

	// Model client
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)
)

// RecordRecommendation observes one finished recommendation request.
func RecordRecommendation(outcome string, elapsed time.Duration) {
	RecommendationsTotal.WithLabelValues(outcome).Inc()
	RecommendationDuration.Observe(elapsed.Seconds())
}

// ObserveQuery times a warehouse query started at start.
func ObserveQuery(query string, start time.Time) {
	WarehouseQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}
