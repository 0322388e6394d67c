package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier labels used in metrics and logs.
const (
	tierMemory = "memory"
	tierSlow   = "persistent"
)

var (
	// CacheHits tracks cache hits by tier and freshness
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftfloor_cache_hits_total",
			Help: "Total number of floor-price cache hits",
		},
		[]string{"tier", "freshness"}, // "memory"|"persistent", "fresh"|"stale"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nftfloor_cache_misses_total",
			Help: "Total number of floor-price cache misses",
		},
	)

	// CacheEntries tracks entries held per tier
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nftfloor_cache_entries",
			Help: "Current number of entries per cache tier",
		},
		[]string{"tier"},
	)

	// CacheEvictions tracks LRU evictions per tier
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftfloor_cache_evictions_total",
			Help: "Total number of cache entries evicted for capacity",
		},
		[]string{"tier"},
	)

	// CompressedWrites tracks slow-tier writes stored in encoded form
	CompressedWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nftfloor_cache_compressed_writes_total",
			Help: "Total number of persistent cache writes stored compressed",
		},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nftfloor_304_responses_total",
			Help: "Total number of upstream 304 Not Modified responses",
		},
	)

	// CacheErrors tracks slow-tier operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nftfloor_cache_errors_total",
			Help: "Total number of persistent cache operation errors",
		},
		[]string{"operation"}, // "load", "save", "decode", "delete", ...
	)
)
