// Package metrics exposes the Prometheus registry shared by the floor-price
// packages. Collectors are defined in their own packages (cache, ratelimit,
// client) and registered through promauto; this package serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers its collectors with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - nftfloor_cache_hits_total{tier, freshness} (Counter): hits by tier and freshness
//   - nftfloor_cache_misses_total (Counter): lookups that found no usable entry
//   - nftfloor_cache_entries{tier} (Gauge): entries per tier
//   - nftfloor_cache_evictions_total{tier} (Counter): entries dropped for capacity
//   - nftfloor_cache_compressed_writes_total (Counter): persistent writes stored compressed
//   - nftfloor_304_responses_total (Counter): upstream 304 revalidations
//   - nftfloor_cache_errors_total{operation} (Counter): persistent tier failures
//
// Rate Limit Metrics (pkg/ratelimit):
//   - nftfloor_ratelimit_remaining (Gauge): server-reported requests left in the window
//   - nftfloor_ratelimit_queue_length (Gauge): requests waiting in the queue
//   - nftfloor_ratelimit_queue_rejections_total{reason} (Counter): full, cleared, closed
//   - nftfloor_ratelimit_queue_wait_seconds (Histogram): time queued before dispatch
//   - nftfloor_ratelimit_admission_wait_seconds (Histogram): window wait before dispatch
//   - nftfloor_upstream_requests_total{outcome} (Counter): success, failed, exhausted, aborted
//   - nftfloor_retries_total{error_class} (Counter): retry attempts
//   - nftfloor_retry_backoff_seconds{error_class} (Histogram): backoff before each retry
//   - nftfloor_retry_exhausted_total{error_class} (Counter): requests out of retries
//
// Orchestrator Metrics (pkg/client):
//   - nftfloor_fetches_total{verdict} (Counter): GetOrFetch calls by fresh, stale, miss
//   - nftfloor_fetch_duration_seconds{verdict} (Histogram): GetOrFetch latency
//   - nftfloor_fetch_errors_total{class} (Counter): failed cache fills
//   - nftfloor_background_refreshes_total{outcome} (Counter): stale refreshes
//   - nftfloor_dedup_shared_total (Counter): results delivered to concurrent callers
//   - nftfloor_inflight_fetches (Gauge): keys with a fetch in progress
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(nftfloor_cache_hits_total[5m])) /
//   (sum(rate(nftfloor_cache_hits_total[5m])) + sum(rate(nftfloor_cache_misses_total[5m])))
//
//   # Share of hits served stale
//   sum(rate(nftfloor_cache_hits_total{freshness="stale"}[5m])) / sum(rate(nftfloor_cache_hits_total[5m]))
//
//   # Upstream budget nearly spent
//   nftfloor_ratelimit_remaining < 2
//
//   # P95 admission wait
//   histogram_quantile(0.95, rate(nftfloor_ratelimit_admission_wait_seconds_bucket[5m]))
