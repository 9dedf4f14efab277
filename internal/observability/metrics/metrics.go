// Package metrics exposes the service's Prometheus collectors. Collectors
// register on the default registry; the metrics listener serves them via
// promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictd",
		Name:      "predictions_total",
		Help:      "Predictions served, labeled by decision outcome.",
	}, []string{"decision"})

	predictionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "predictd",
		Name:      "prediction_latency_seconds",
		Help:      "Wall-clock latency of single predictions.",
		Buckets:   prometheus.DefBuckets,
	})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predictd",
		Name:      "prediction_cache_hits_total",
		Help:      "Prediction cache hits.",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predictd",
		Name:      "prediction_cache_misses_total",
		Help:      "Prediction cache misses, including cache read failures.",
	})

	rateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predictd",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	reconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predictd",
		Name:      "registry_reconcile_failures_total",
		Help:      "Failed registry reconciliation passes.",
	})

	activeVersions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Name:      "registry_active_versions",
		Help:      "Model versions currently eligible for traffic.",
	})
)

// ObservePrediction records one served prediction.
func ObservePrediction(decision string, latencySeconds float64) {
	predictionsTotal.WithLabelValues(decision).Inc()
	predictionLatency.Observe(latencySeconds)
}

// IncCacheHit records a prediction cache hit.
func IncCacheHit() { cacheHitsTotal.Inc() }

// IncCacheMiss records a prediction cache miss.
func IncCacheMiss() { cacheMissesTotal.Inc() }

// IncRateLimitRejection records a rate-limited request.
func IncRateLimitRejection() { rateLimitRejections.Inc() }

// IncReconcileFailures records a failed reconciliation pass.
func IncReconcileFailures() { reconcileFailures.Inc() }

// SetActiveVersions records the current number of active versions.
func SetActiveVersions(n int) { activeVersions.Set(float64(n)) }
