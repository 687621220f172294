package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapekit_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"store"}, // "file", "redis"
	)

	// CacheMisses tracks cache misses, including expired entries
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapekit_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"store"},
	)

	// CacheCorrupt tracks entries discarded because they could not be decoded
	CacheCorrupt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapekit_cache_corrupt_total",
			Help: "Total number of corrupt cache entries discarded",
		},
		[]string{"store"},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapekit_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "invalidate", "clear", "cleanup", "stats"
	)
)
