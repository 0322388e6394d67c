// Package cache provides the two-tier cache behind the floor-price API client.
//
// The Store keeps fetched API payloads in two tiers:
//
// - a fast in-process tier (ttlcache, bounded by entry count, LRU eviction)
// - an optional slow persistent tier (Redis or SQLite) partitioned by a key prefix
//
// Freshness is decided per class tag. Every tag maps to a TTL and a stale
// window; entries younger than the TTL are fresh, entries younger than the
// stale window may be served while a refresh runs, anything older is purged.
//
// # Basic Usage
//
//	store, err := cache.NewStore(cache.DefaultConfig(), nil, logger)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	store.Set(ctx, "azuki_history_days=30", payload, "30d", etag)
//
//	lookup, ok := store.Get(ctx, "azuki_history_days=30", "30d", true)
//	if ok && lookup.Stale {
//		// serve lookup.Entry.Payload and refresh in the background
//	}
//
// # Persistent Tier
//
//	tier := cache.NewRedisTier(redisClient, cache.DefaultPrefix)
//	store, err := cache.NewStore(cache.DefaultConfig(), tier, logger)
//
// Slow-tier failures never reach callers. They are returned internally as
// *StorageError, logged at debug level, counted, and treated as a miss.
// Payloads above the compression threshold are stored zstd-encoded; a record
// that fails to decode is deleted and reported as a miss.
//
// # Conditional Requests
//
//	if entry, ok := store.Peek(ctx, key); ok {
//		cache.AddConditionalHeaders(req, entry.ETag)
//	}
//	// on 304 Not Modified:
//	store.Revalidate(ctx, key, entry)
//
// # Metrics
//
//   - nftfloor_cache_hits_total{tier,freshness} - Cache hits
//   - nftfloor_cache_misses_total - Cache misses
//   - nftfloor_cache_entries{tier} - Entries per tier
//   - nftfloor_cache_evictions_total{tier} - LRU evictions
//   - nftfloor_cache_errors_total{operation} - Slow-tier failures
//   - nftfloor_304_responses_total - Conditional request successes
package cache
