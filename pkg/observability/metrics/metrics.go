package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheOperations tracks cache lookups and stores by outcome.
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factgate_cache_operations_total",
			Help: "The total number of content cache operations",
		},
		[]string{"operation", "outcome"},
	)

	// CacheEvictions tracks entries removed by maintenance sweeps.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factgate_cache_evictions_total",
			Help: "The total number of cache entries evicted, by reason",
		},
		[]string{"reason"},
	)

	// CacheSize tracks the current number of stored entries.
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "factgate_cache_entries",
			Help: "The current number of entries in the content cache",
		},
	)

	// AdmissionDecisions tracks admission control outcomes per model and tier.
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factgate_admission_decisions_total",
			Help: "The total number of admission control decisions",
		},
		[]string{"model", "tier", "outcome"},
	)

	// UpstreamRequests tracks calls that reached the inference provider.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factgate_upstream_requests_total",
			Help: "The total number of upstream inference calls",
		},
		[]string{"model", "status"},
	)
)

// RecordCacheHit records a successful cache lookup.
func RecordCacheHit() {
	CacheOperations.WithLabelValues("get", "hit").Inc()
}

// RecordCacheMiss records a cache lookup that found nothing usable.
func RecordCacheMiss() {
	CacheOperations.WithLabelValues("get", "miss").Inc()
}

// RecordCacheStore records a cache write.
func RecordCacheStore() {
	CacheOperations.WithLabelValues("set", "stored").Inc()
}

// RecordEviction records n entries removed for the given reason
// ("expired" or "capacity").
func RecordEviction(reason string, n int) {
	if n > 0 {
		CacheEvictions.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordAdmission records an admission decision for a model and tier.
func RecordAdmission(model, tier string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	AdmissionDecisions.WithLabelValues(model, tier, outcome).Inc()
}
