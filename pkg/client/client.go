// Package client provides the fetch orchestrator for floor-price data: a
// tiered cache with stale-while-revalidate, request deduplication, and a
// rate-limited retry queue in front of the upstream API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/NPFdevops/nft-floor-compare/pkg/cache"
	"github.com/NPFdevops/nft-floor-compare/pkg/logging"
	"github.com/NPFdevops/nft-floor-compare/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nftfloor/client"

// Response is what a Fetcher returns on success.
type Response struct {
	// Payload is the raw JSON body
	Payload []byte

	// Header carries rate limit state and the validator, when present
	Header http.Header

	// ETag overrides the ETag header
	ETag string

	// NotModified is set when upstream answered 304 to a conditional request
	NotModified bool
}

// Fetcher loads one resource from upstream. validator is the ETag of the
// cached copy, or empty; fetchers send it as If-None-Match. Any non-success
// outcome must be an error (*ratelimit.StatusError for HTTP statuses).
type Fetcher func(ctx context.Context, validator string) (*Response, error)

// Client orchestrates cache lookups and upstream fetches.
type Client struct {
	store   *cache.Store
	gate    *ratelimit.Gate
	dedupe  *Deduplicator
	policy  *Policy
	config  Config
	logger  zerolog.Logger
	tracer  trace.Tracer
	tracker *ratelimit.Tracker

	mu         sync.Mutex
	closed     bool
	stopMaint  context.CancelFunc
	maintWG    sync.WaitGroup
	refreshers sync.WaitGroup
}

// Config holds the client configuration.
type Config struct {
	// Cache configures tier capacities and the TTL policy
	Cache cache.Config

	// SlowTier is the persistent tier; nil keeps the cache in memory only
	SlowTier cache.Tier

	// RateLimit configures the request window, queue and retry schedule
	RateLimit ratelimit.Config

	// Redis, when set, mirrors rate limit state across processes
	Redis *redis.Client

	// MaintenanceInterval is the period of expired-entry cleanup
	MaintenanceInterval time.Duration
}

// DefaultConfig returns the dashboard defaults with an in-memory cache.
func DefaultConfig() Config {
	return Config{
		Cache:               cache.DefaultConfig(),
		RateLimit:           ratelimit.DefaultConfig(),
		MaintenanceInterval: 5 * time.Minute,
	}
}

// New creates a client. The caller owns cfg.SlowTier and cfg.Redis.
func New(cfg Config) (*Client, error) {
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 5 * time.Minute
	}

	logger := logging.NewLogger("floor-client")

	store, err := cache.NewStore(cfg.Cache, cfg.SlowTier, logger.With().Str("subcomponent", "cache").Logger())
	if err != nil {
		return nil, fmt.Errorf("create cache store: %w", err)
	}

	tracker := ratelimit.NewTracker(cfg.Redis, logger.With().Str("subcomponent", "ratelimit").Logger())
	gate := ratelimit.NewGate(cfg.RateLimit, tracker, logger.With().Str("subcomponent", "gate").Logger())

	return &Client{
		store:   store,
		gate:    gate,
		dedupe:  NewDeduplicator(),
		policy:  NewPolicy(store),
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		tracker: tracker,
	}, nil
}

// FetchOption configures a single GetOrFetch call.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	priority ratelimit.Priority
}

// WithPriority sets the queue priority used when the call must fetch.
func WithPriority(p ratelimit.Priority) FetchOption {
	return func(o *fetchOptions) {
		o.priority = p
	}
}

// GetOrFetch returns the payload for key. A fresh cached copy is returned
// directly. A stale copy is returned and refreshed in the background. On a
// miss the call waits for a deduplicated, rate-limited fetch, stores the
// result and returns it. Only the miss path reports fetch failures, as
// *FetchError.
func (c *Client) GetOrFetch(ctx context.Context, key, classTag string, fetcher Fetcher, opts ...FetchOption) ([]byte, error) {
	o := fetchOptions{priority: ratelimit.PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "client.GetOrFetch", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.class_tag", classTag),
	))
	defer span.End()

	start := time.Now()
	verdict := c.policy.Resolve(ctx, key, classTag)
	action := verdict.Action.String()
	span.SetAttributes(attribute.String("cache.verdict", action))
	fetchesTotal.WithLabelValues(action).Inc()
	defer func() {
		fetchDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	switch verdict.Action {
	case ActionFresh:
		return verdict.Entry.Payload, nil
	case ActionStale:
		c.refreshInBackground(ctx, key, classTag, fetcher, verdict.Prior)
		return verdict.Entry.Payload, nil
	}

	if c.isClosed() {
		return nil, ErrClosed
	}

	res, shared, err := c.dedupe.Do(ctx, key, func(ctx context.Context) (*Result, error) {
		return c.fetchAndStore(ctx, key, classTag, fetcher, verdict.Prior, o.priority)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			span.SetStatus(codes.Error, "caller gave up")
			return nil, err
		}
		fe := newFetchError(key, err)
		fetchErrorsTotal.WithLabelValues(string(fe.Class)).Inc()
		span.RecordError(fe)
		span.SetStatus(codes.Error, string(fe.Class))
		c.logger.Error().
			Err(err).
			Str("key", key).
			Str("error_class", string(fe.Class)).
			Msg("Fetch failed")
		return nil, fe
	}
	if shared {
		sharedFetchesTotal.Inc()
	}
	span.SetAttributes(attribute.Bool("fetch.shared", shared), attribute.Bool("fetch.revalidated", res.Revalidated))
	// callers coalesced onto one fetch each get their own bytes
	return bytes.Clone(res.Payload), nil
}

// refreshInBackground schedules one deduplicated refresh of a stale key.
// The refresh outlives the caller's context; failures are logged only.
func (c *Client) refreshInBackground(ctx context.Context, key, classTag string, fetcher Fetcher, prior *cache.Entry) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.dedupe.Pending(key) {
		c.mu.Unlock()
		return
	}
	c.refreshers.Add(1)
	c.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.refreshers.Done()

		ctx, span := c.tracer.Start(bg, "client.refresh", trace.WithAttributes(attribute.String("cache.key", key)))
		defer span.End()

		_, _, err := c.dedupe.Do(ctx, key, func(ctx context.Context) (*Result, error) {
			return c.fetchAndStore(ctx, key, classTag, fetcher, prior, ratelimit.PriorityNormal)
		})
		if err != nil {
			backgroundRefreshesTotal.WithLabelValues("failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
			c.logger.Warn().Err(err).Str("key", key).Msg("Background refresh failed, serving stale data")
			return
		}
		backgroundRefreshesTotal.WithLabelValues("success").Inc()
		c.logger.Debug().Str("key", key).Msg("Background refresh completed")
	}()
}

// fetchAndStore runs fetcher through the gate and writes the result to the
// cache. A 304 re-stores prior with a new creation time.
func (c *Client) fetchAndStore(ctx context.Context, key, classTag string, fetcher Fetcher, prior *cache.Entry, priority ratelimit.Priority) (*Result, error) {
	validator := ""
	if prior != nil {
		validator = prior.ETag
	}

	var resp *Response
	err := c.gate.Do(ctx, priority, func(ctx context.Context) (http.Header, error) {
		r, err := fetcher(ctx, validator)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, ErrNoResponse
		}
		resp = r
		return r.Header, nil
	})
	if errors.Is(err, ratelimit.ErrOperationPanic) {
		return nil, fmt.Errorf("%w: %w", ErrFetcherPanic, err)
	}
	if err != nil {
		return nil, err
	}

	if resp.NotModified {
		if prior == nil {
			return nil, fmt.Errorf("upstream returned 304 for %q without a cached copy", key)
		}
		cache.NotModifiedResponses.Inc()
		e := c.store.Revalidate(ctx, key, prior)
		c.logger.Info().Str("key", key).Str("etag", e.ETag).Msg("Upstream confirmed cached copy (304)")
		return &Result{Payload: e.Payload, ETag: e.ETag, Revalidated: true}, nil
	}

	etag := resp.ETag
	if etag == "" {
		etag = cache.ValidatorFromHeaders(resp.Header)
	}
	e := c.store.Set(ctx, key, resp.Payload, classTag, etag)
	c.logger.Info().
		Str("key", key).
		Str("class_tag", classTag).
		Int("size_bytes", e.SizeBytes).
		Msg("Fetched and cached")
	return &Result{Payload: e.Payload, ETag: e.ETag}, nil
}

// Start restores mirrored rate limit state and launches periodic cache
// maintenance until ctx ends or Close is called.
func (c *Client) Start(ctx context.Context) {
	if err := c.tracker.Load(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to restore rate limit state")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stopMaint != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.stopMaint = cancel
	c.maintWG.Add(1)
	go func() {
		defer c.maintWG.Done()
		ticker := time.NewTicker(c.config.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunMaintenance(ctx)
			}
		}
	}()
}

// RunMaintenance removes expired entries and trims both tiers to capacity.
func (c *Client) RunMaintenance(ctx context.Context) {
	expired := c.store.CleanupExpired(ctx)
	evicted := c.store.Evict(ctx)
	c.logger.Debug().
		Int("expired", expired).
		Int("evicted", evicted).
		Msg("Cache maintenance completed")
}

// Clear empties both cache tiers.
func (c *Client) Clear(ctx context.Context) {
	c.store.Clear(ctx)
	c.logger.Info().Msg("Cache cleared")
}

// ClearQueue rejects every queued upstream request.
func (c *Client) ClearQueue() int {
	return c.gate.Clear()
}

// Stats combines cache and rate limit statistics.
type Stats struct {
	Cache     cache.Stats     `json:"cache"`
	RateLimit ratelimit.Stats `json:"rate_limit"`
	InFlight  []string        `json:"in_flight"`
}

// Stats returns a snapshot for observability.
func (c *Client) Stats(ctx context.Context) Stats {
	return Stats{
		Cache:     c.store.Stats(ctx),
		RateLimit: c.gate.Stats(),
		InFlight:  c.dedupe.InFlight(),
	}
}

// Store returns the underlying cache store.
func (c *Client) Store() *cache.Store {
	return c.store
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops maintenance, closes the gate, waits for background refreshes
// and releases the store. The slow tier and Redis client are not closed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stop := c.stopMaint
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.maintWG.Wait()
	c.gate.Close()
	c.refreshers.Wait()
	c.store.Close()
}
