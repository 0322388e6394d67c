package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for the tiered store.
const (
	DefaultMaxMemorySize        = 200
	DefaultMaxSlowSize          = 800
	DefaultCompressionThreshold = 5000 // bytes

	// Slow-tier relief after a failed write: when above reliefHighWater of
	// capacity, drop reliefFraction of the least recently accessed records.
	reliefHighWater = 0.8
	reliefFraction  = 0.3
)

// Config holds the store configuration.
type Config struct {
	// MaxMemorySize is the fast tier capacity in entries
	MaxMemorySize int

	// MaxSlowSize is the slow tier capacity in entries
	MaxSlowSize int

	// CompressionThreshold is the payload size above which slow-tier
	// records are stored zstd-encoded
	CompressionThreshold int

	// Policy maps class tags to TTL and stale window
	Policy *TTLPolicy
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemorySize:        DefaultMaxMemorySize,
		MaxSlowSize:          DefaultMaxSlowSize,
		CompressionThreshold: DefaultCompressionThreshold,
		Policy:               DefaultTTLPolicy(),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"` // percent
	Evictions uint64  `json:"evictions"`
	FastSize  int     `json:"memory_cache_size"`
	SlowSize  int     `json:"persistent_cache_size"`
	MaxFast   int     `json:"max_memory_size"`
	MaxSlow   int     `json:"max_persistent_size"`
}

// Store is the two-tier cache. Every operation holds one mutex across both
// tiers, so a Get or Set is never observed half-applied.
type Store struct {
	mu     sync.Mutex
	fast   *MemoryTier
	slow   Tier
	codec  *codec
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewStore creates a store. slow may be nil, in which case the fast tier is
// the only tier.
func NewStore(cfg Config, slow Tier, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if cfg.MaxMemorySize <= 0 {
		cfg.MaxMemorySize = DefaultMaxMemorySize
	}
	if cfg.MaxSlowSize <= 0 {
		cfg.MaxSlowSize = DefaultMaxSlowSize
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultTTLPolicy()
	}

	c, err := newCodec(cfg.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	s := &Store{
		fast:   NewMemoryTier(cfg.MaxMemorySize),
		slow:   slow,
		codec:  c,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the codec. The slow tier is owned by the caller.
func (s *Store) Close() {
	s.codec.close()
}

// Policy returns the TTL policy in use.
func (s *Store) Policy() *TTLPolicy {
	return s.cfg.Policy
}

// Get looks up key in the fast tier, then the slow tier.
// A fresh hit is returned with Stale=false. When allowStale is set, an entry
// inside its stale window is returned with Stale=true. Entries past their
// stale window are purged. Slow-tier hits are promoted into the fast tier.
func (s *Store) Get(ctx context.Context, key, classTag string, allowStale bool) (*Lookup, bool) {
	lookup, _, ok := s.Find(ctx, key, classTag, allowStale)
	return lookup, ok
}

// Find behaves like Get and also returns a copy of whatever entry was stored
// under key before the lookup, even when the lookup missed or purged it.
func (s *Store) Find(ctx context.Context, key, classTag string, allowStale bool) (*Lookup, *Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	class := s.cfg.Policy.Lookup(classTag)
	now := s.now()
	var prior *Entry

	if e, ok := s.fast.Peek(key); ok {
		prior = e.clone()
		switch class.Classify(e.Age(now)) {
		case Fresh:
			s.fast.Touch(key)
			return s.hit(e, tierMemory, false, now), prior, true
		case Stale:
			if allowStale {
				s.fast.Touch(key)
				return s.hit(e, tierMemory, true, now), prior, true
			}
		case Expired:
			s.fast.Delete(key)
		}
	}

	if s.slow != nil {
		e, err := s.loadSlow(ctx, key)
		if err != nil {
			s.absorb(err)
		} else if e != nil {
			if prior == nil {
				prior = e.clone()
			}
			switch class.Classify(e.Age(now)) {
			case Fresh:
				s.promote(ctx, e, now)
				return s.hit(e, tierSlow, false, now), prior, true
			case Stale:
				if allowStale {
					s.promote(ctx, e, now)
					return s.hit(e, tierSlow, true, now), prior, true
				}
			case Expired:
				s.deleteSlow(ctx, key)
			}
		}
	}

	s.misses++
	CacheMisses.Inc()
	s.logger.Debug().Str("key", key).Str("class_tag", classTag).Msg("Cache miss")
	return nil, prior, false
}

// hit records a hit and returns a copy of e. The caller holds s.mu.
func (s *Store) hit(e *Entry, tier string, stale bool, now time.Time) *Lookup {
	e.LastAccessedAt = now
	s.hits++

	freshness := Fresh
	if stale {
		freshness = Stale
	}
	CacheHits.WithLabelValues(tier, freshness.String()).Inc()
	s.logger.Debug().
		Str("key", e.Key).
		Str("tier", tier).
		Bool("stale", stale).
		Msg("Cache hit")

	return &Lookup{Entry: e.clone(), Stale: stale}
}

// promote copies a slow-tier entry into the fast tier. The caller holds s.mu.
func (s *Store) promote(ctx context.Context, e *Entry, now time.Time) {
	e.LastAccessedAt = now
	s.countEvictions(tierMemory, s.fast.Put(e))
	if err := s.slow.Touch(ctx, e.Key, now); err != nil {
		s.absorb(&StorageError{Op: "touch", Key: e.Key, Err: err})
	}
	CacheEntries.WithLabelValues(tierMemory).Set(float64(s.fast.Len()))
}

// Peek returns the stored entry for key regardless of age, without touching
// recency, metrics, or purging. Used to recover the last validator token.
func (s *Store) Peek(ctx context.Context, key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.fast.Peek(key); ok {
		return e.clone(), true
	}
	if s.slow == nil {
		return nil, false
	}

	e, err := s.loadSlow(ctx, key)
	if err != nil {
		s.absorb(err)
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	return e, true
}

// Set stores payload under key in both tiers, replacing any previous entry.
// It returns a copy of the stored entry.
func (s *Store) Set(ctx context.Context, key string, payload []byte, classTag, etag string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := &Entry{
		Key:            key,
		Payload:        bytes.Clone(payload),
		CreatedAt:      now,
		LastAccessedAt: now,
		ClassTag:       classTag,
		SizeBytes:      len(payload),
		ETag:           etag,
	}
	s.put(ctx, e)

	s.logger.Debug().
		Str("key", key).
		Str("class_tag", classTag).
		Int("size_bytes", e.SizeBytes).
		Msg("Cache set")
	return e.clone()
}

// Revalidate re-stores prior with a new creation time, as after a
// 304 Not Modified response. The payload and validator are kept.
func (s *Store) Revalidate(ctx context.Context, key string, prior *Entry) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := prior.clone()
	e.Key = key
	e.CreatedAt = now
	e.LastAccessedAt = now
	e.Compressed = false
	s.put(ctx, e)

	s.logger.Debug().Str("key", key).Str("etag", e.ETag).Msg("Cache entry revalidated")
	return e.clone()
}

// put writes e to both tiers and runs eviction. The caller holds s.mu.
func (s *Store) put(ctx context.Context, e *Entry) {
	s.countEvictions(tierMemory, s.fast.Put(e))
	CacheEntries.WithLabelValues(tierMemory).Set(float64(s.fast.Len()))

	if s.slow == nil {
		return
	}

	if err := s.saveSlow(ctx, e); err != nil {
		s.absorb(err)
		s.relieveSlow(ctx)
		return
	}
	s.evictSlow(ctx)
}

// Evict trims both tiers to capacity and returns the number of entries removed.
// The fast tier enforces its bound on every insert, so only the slow tier can
// be over capacity here.
func (s *Store) Evict(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slow == nil {
		return 0
	}
	return s.evictSlow(ctx)
}

// CleanupExpired removes every entry past its stale window from both tiers
// and returns how many were removed. Corrupt slow-tier records are removed too.
func (s *Store) CleanupExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for _, e := range s.fast.Entries() {
		if s.cfg.Policy.Lookup(e.ClassTag).Classify(e.Age(now)) == Expired {
			s.fast.Delete(e.Key)
			removed++
		}
	}
	CacheEntries.WithLabelValues(tierMemory).Set(float64(s.fast.Len()))

	if s.slow != nil {
		removed += s.cleanupSlow(ctx, now)
	}

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Expired cache entries cleaned up")
	}
	return removed
}

// Clear removes all entries from both tiers.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fast.Clear()
	CacheEntries.WithLabelValues(tierMemory).Set(0)

	if s.slow != nil {
		if err := s.slow.Clear(ctx); err != nil {
			s.absorb(&StorageError{Op: "clear", Err: err})
			return
		}
		CacheEntries.WithLabelValues(tierSlow).Set(0)
	}
}

// Stats returns hit/miss counters and tier occupancy.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		FastSize:  s.fast.Len(),
		MaxFast:   s.fast.Capacity(),
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total) * 100
	}
	if s.slow != nil {
		st.MaxSlow = s.cfg.MaxSlowSize
		if n, err := s.slow.Len(ctx); err != nil {
			s.absorb(&StorageError{Op: "len", Err: err})
		} else {
			st.SlowSize = n
		}
	}
	return st
}

// loadSlow reads and decodes a slow-tier record. It returns (nil, nil) when
// the key is absent. Undecodable records are deleted.
func (s *Store) loadSlow(ctx context.Context, key string) (*Entry, error) {
	data, err := s.slow.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &StorageError{Op: "load", Key: key, Err: err}
	}

	e, err := s.codec.decode(data)
	if err != nil {
		s.deleteSlow(ctx, key)
		return nil, &StorageError{Op: "decode", Key: key, Err: err}
	}
	if e.Key != key {
		s.deleteSlow(ctx, key)
		return nil, &StorageError{Op: "decode", Key: key, Err: fmt.Errorf("%w: key mismatch %q", ErrInvalidEntry, e.Key)}
	}
	return e, nil
}

func (s *Store) saveSlow(ctx context.Context, e *Entry) error {
	data, err := s.codec.encode(e)
	if err != nil {
		return &StorageError{Op: "encode", Key: e.Key, Err: err}
	}
	if err := s.slow.Save(ctx, e.Key, data, e.LastAccessedAt); err != nil {
		return &StorageError{Op: "save", Key: e.Key, Err: err}
	}
	return nil
}

func (s *Store) deleteSlow(ctx context.Context, keys ...string) bool {
	if err := s.slow.Delete(ctx, keys...); err != nil {
		s.absorb(&StorageError{Op: "delete", Err: err})
		return false
	}
	return true
}

// evictSlow drops least recently accessed records until the slow tier is
// within capacity. The caller holds s.mu.
func (s *Store) evictSlow(ctx context.Context) int {
	n, err := s.slow.Len(ctx)
	if err != nil {
		s.absorb(&StorageError{Op: "len", Err: err})
		return 0
	}
	CacheEntries.WithLabelValues(tierSlow).Set(float64(n))
	if n <= s.cfg.MaxSlowSize {
		return 0
	}
	return s.dropOldest(ctx, n-s.cfg.MaxSlowSize)
}

// relieveSlow runs after a failed slow-tier write (quota exceeded, full disk):
// it drops expired records and, when the tier is still near capacity, the
// least recently accessed share of it. The caller holds s.mu.
func (s *Store) relieveSlow(ctx context.Context) {
	s.cleanupSlow(ctx, s.now())

	n, err := s.slow.Len(ctx)
	if err != nil {
		s.absorb(&StorageError{Op: "len", Err: err})
		return
	}
	if float64(n) > float64(s.cfg.MaxSlowSize)*reliefHighWater {
		dropped := s.dropOldest(ctx, int(float64(n)*reliefFraction))
		s.logger.Debug().Int("dropped", dropped).Msg("Persistent cache relieved after write failure")
	}
}

func (s *Store) dropOldest(ctx context.Context, count int) int {
	if count <= 0 {
		return 0
	}
	keys, err := s.slow.Keys(ctx)
	if err != nil {
		s.absorb(&StorageError{Op: "keys", Err: err})
		return 0
	}
	if count > len(keys) {
		count = len(keys)
	}
	victims := keys[:count]
	if !s.deleteSlow(ctx, victims...) {
		return 0
	}
	s.countEvictions(tierSlow, len(victims))
	return len(victims)
}

func (s *Store) cleanupSlow(ctx context.Context, now time.Time) int {
	keys, err := s.slow.Keys(ctx)
	if err != nil {
		s.absorb(&StorageError{Op: "keys", Err: err})
		return 0
	}

	var expired []string
	for _, key := range keys {
		data, err := s.slow.Load(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.absorb(&StorageError{Op: "load", Key: key, Err: err})
			}
			continue
		}
		e, err := s.codec.decode(data)
		if err != nil || s.cfg.Policy.Lookup(e.ClassTag).Classify(e.Age(now)) == Expired {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 || !s.deleteSlow(ctx, expired...) {
		return 0
	}
	return len(expired)
}

func (s *Store) countEvictions(tier string, n int) {
	if n <= 0 {
		return
	}
	s.evictions += uint64(n)
	CacheEvictions.WithLabelValues(tier).Add(float64(n))
}

// absorb is the boundary where slow-tier failures become misses or no-ops.
func (s *Store) absorb(err error) {
	var se *StorageError
	if errors.As(err, &se) {
		CacheErrors.WithLabelValues(se.Op).Inc()
	}
	s.logger.Debug().Err(err).Msg("Persistent cache unavailable, continuing with memory tier")
}
