package fees

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	RateCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_fees_rate_cache_hits_total",
		Help: "Total number of fee rate cache hits",
	})

	RateCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_fees_rate_cache_misses_total",
		Help: "Total number of fee rate cache misses",
	})

	RateLookupFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omg_fees_rate_lookup_fallbacks_total",
		Help: "Total number of venue fee lookups that fell back to configured rates",
	})
)
