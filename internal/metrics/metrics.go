package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	RateLimited     prometheus.Counter
	RequestDuration prometheus.Histogram
}

// New registers the gateway collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Requests handled by the pipeline, by response status.",
		}, []string{"status"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "cache_hits_total",
			Help:      "Responses served from the result cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "cache_misses_total",
			Help:      "Requests that executed the backing query.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-endpoint rate limiter.",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Wall time from request receipt to response.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
