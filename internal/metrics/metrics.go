package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compound",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	LookupRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "lookup_requests_total",
		Help:      "Total lookup service calls by operation and result status.",
	}, []string{"operation", "status"})

	LookupRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compound",
		Name:      "lookup_request_duration_seconds",
		Help:      "Lookup service call duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	LookupAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "compound",
		Name:      "lookup_available",
		Help:      "Whether a lookup operation is available (1) or blocked by circuit breaker (0).",
	}, []string{"operation"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "cache_hits_total",
		Help:      "Total number of lookup cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "cache_misses_total",
		Help:      "Total number of lookup cache misses.",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "compound",
		Name:      "sessions_active",
		Help:      "Number of open search sessions.",
	})

	DebounceFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "debounce_fires_total",
		Help:      "Total number of debounced query changes.",
	})

	SuggestionFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "suggestion_fetches_total",
		Help:      "Suggestion fetches by outcome (ok, empty, error, stale).",
	}, []string{"outcome"})

	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "resolutions_total",
		Help:      "Compound resolutions by outcome (resolved, not_found, stale).",
	}, []string{"outcome"})

	DetailFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compound",
		Name:      "detail_fetches_total",
		Help:      "Stage-two detail fetches by kind and status.",
	}, []string{"kind", "status"})

	ResolutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "compound",
		Name:      "resolution_duration_seconds",
		Help:      "End-to-end compound resolution duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LookupRequestsTotal,
		LookupRequestDuration,
		LookupAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		SessionsActive,
		DebounceFiresTotal,
		SuggestionFetchesTotal,
		ResolutionsTotal,
		DetailFetchesTotal,
		ResolutionDuration,
	)
}
