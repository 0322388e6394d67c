package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys for the mirrored rate limit state. They live outside the cache
// prefix so clearing the cache keeps them.
const (
	RedisKeyRemaining  = "nft_ratelimit_v1:remaining"
	RedisKeyLimit      = "nft_ratelimit_v1:limit"
	RedisKeyResetAt    = "nft_ratelimit_v1:reset_at"
	RedisKeyLastUpdate = "nft_ratelimit_v1:last_update"
)

// defaultResetFallback applies when the server reports a remaining count
// without a reset time.
const defaultResetFallback = 16 * time.Minute

// Tracker holds the latest server-reported rate limit state. When given a
// Redis client it mirrors updates so sibling processes start from the same
// view; Redis is optional.
type Tracker struct {
	mu       sync.Mutex
	state    *State
	redis    *redis.Client
	logger   zerolog.Logger
	now      func() time.Time
	fallback time.Duration
}

// NewTracker creates a new rate limit tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:    redisClient,
		logger:   logger,
		now:      time.Now,
		fallback: defaultResetFallback,
	}
}

// Current returns a copy of the server state while it is current, or nil.
func (t *Tracker) Current() *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsCurrent(t.now()) {
		return nil
	}
	cp := *t.state
	return &cp
}

// Last returns a copy of the most recent server state regardless of age, or nil.
func (t *Tracker) Last() *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return nil
	}
	cp := *t.state
	return &cp
}

// consume decrements the remaining estimate after a dispatch.
func (t *Tracker) consume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsCurrent(t.now()) && t.state.Remaining > 0 {
		t.state.Remaining--
		serverRemaining.Set(float64(t.state.Remaining))
	}
}

// UpdateFromHeaders parses rate limit headers and replaces the tracked state.
// Responses without rate limit headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	if headers == nil {
		return nil
	}

	t.mu.Lock()
	state, ok, err := parseHeaders(headers, t.now(), t.state, t.fallback)
	if err != nil || !ok {
		t.mu.Unlock()
		return err
	}
	t.state = state
	t.mu.Unlock()

	serverRemaining.Set(float64(state.Remaining))

	logEvent := t.logger.Info()
	if state.Exhausted() {
		logEvent = t.logger.Warn()
	}
	logEvent.
		Int("remaining", state.Remaining).
		Int("limit", state.Limit).
		Time("reset_at", state.ResetAt).
		Msg("Rate limit state updated")

	if t.redis == nil {
		return nil
	}
	return t.store(ctx, state)
}

// store mirrors the state to Redis. Keys expire at the reset time.
func (t *Tracker) store(ctx context.Context, state *State) error {
	ttl := state.TimeUntilReset(t.now())
	if ttl <= 0 {
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, ttl)
	pipe.Set(ctx, RedisKeyLimit, state.Limit, ttl)
	pipe.Set(ctx, RedisKeyResetAt, state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Load restores the mirrored state from Redis. Missing state is not an error.
func (t *Tracker) Load(ctx context.Context) error {
	if t.redis == nil {
		return nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get remaining: %w", err)
	}

	resetUnix, err := t.redis.Get(ctx, RedisKeyResetAt).Int64()
	if err != nil {
		return fmt.Errorf("get reset timestamp: %w", err)
	}

	limit, err := t.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get limit: %w", err)
	}

	var lastUpdate time.Time
	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get last update: %w", err)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &State{
		Remaining:  remaining,
		Limit:      limit,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: lastUpdate,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != nil && t.state.LastUpdate.After(state.LastUpdate) {
		return nil
	}
	t.state = state
	serverRemaining.Set(float64(remaining))
	return nil
}
