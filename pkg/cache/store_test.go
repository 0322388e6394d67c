package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecord struct {
	value      []byte
	accessedAt time.Time
}

// fakeTier is an in-memory Tier with failure injection.
type fakeTier struct {
	mu      sync.Mutex
	records map[string]fakeRecord
	failAll bool
	failSet bool
}

func newFakeTier() *fakeTier {
	return &fakeTier{records: make(map[string]fakeRecord)}
}

var errTierDown = errors.New("tier unavailable")

func (f *fakeTier) Load(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errTierDown
	}
	r, ok := f.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return r.value, nil
}

func (f *fakeTier) Save(_ context.Context, key string, value []byte, accessedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failSet {
		return errTierDown
	}
	f.records[key] = fakeRecord{value: value, accessedAt: accessedAt}
	return nil
}

func (f *fakeTier) Touch(_ context.Context, key string, accessedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errTierDown
	}
	if r, ok := f.records[key]; ok {
		r.accessedAt = accessedAt
		f.records[key] = r
	}
	return nil
}

func (f *fakeTier) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errTierDown
	}
	for _, k := range keys {
		delete(f.records, k)
	}
	return nil
}

func (f *fakeTier) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errTierDown
	}
	keys := make([]string, 0, len(f.records))
	for k := range f.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := f.records[keys[i]].accessedAt, f.records[keys[j]].accessedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	return keys, nil
}

func (f *fakeTier) Len(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return 0, errTierDown
	}
	return len(f.records), nil
}

func (f *fakeTier) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errTierDown
	}
	f.records = make(map[string]fakeRecord)
	return nil
}

func (f *fakeTier) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[key]
	return ok
}

func newTestStore(t *testing.T, cfg Config, slow Tier) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := NewStore(cfg, slow, zerolog.Nop(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s, clock
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, DefaultConfig(), newFakeTier())

	s.Set(ctx, "azuki_30d", []byte(`[1,2,3]`), "30d", `"v1"`)

	got, ok := s.Get(ctx, "azuki_30d", "30d", false)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got.Stale {
		t.Error("Stale = true, want false")
	}
	if string(got.Entry.Payload) != `[1,2,3]` {
		t.Errorf("Payload = %s, want [1,2,3]", got.Entry.Payload)
	}
	if got.Entry.ETag != `"v1"` {
		t.Errorf("ETag = %v, want %v", got.Entry.ETag, `"v1"`)
	}

	if _, ok := s.Get(ctx, "missing", "30d", true); ok {
		t.Error("Get(missing) hit, want miss")
	}

	st := s.Stats(ctx)
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
	if st.HitRate != 50 {
		t.Errorf("HitRate = %v, want 50", st.HitRate)
	}
}

func TestStore_StaleWindow(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	s, clock := newTestStore(t, DefaultConfig(), slow)

	s.Set(ctx, "azuki_30d", []byte(`{}`), "30d", "")

	// 35 minutes: past the 30m TTL, inside the 1h stale window
	clock.Advance(35 * time.Minute)

	if _, ok := s.Get(ctx, "azuki_30d", "30d", false); ok {
		t.Error("Get(allowStale=false) hit on stale entry, want miss")
	}
	got, ok := s.Get(ctx, "azuki_30d", "30d", true)
	if !ok {
		t.Fatal("Get(allowStale=true) miss, want stale hit")
	}
	if !got.Stale {
		t.Error("Stale = false, want true")
	}

	// 65 minutes: past the stale window, purged from both tiers
	clock.Advance(30 * time.Minute)

	if _, ok := s.Get(ctx, "azuki_30d", "30d", true); ok {
		t.Error("Get() hit on expired entry, want miss")
	}
	if _, ok := s.Peek(ctx, "azuki_30d"); ok {
		t.Error("expired entry still present after Get")
	}
	if slow.has("azuki_30d") {
		t.Error("expired entry still in slow tier")
	}
}

func TestStore_UnknownClassUsesDefault(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, DefaultConfig(), nil)

	s.Set(ctx, "k", []byte(`{}`), "no-such-tag", "")
	clock.Advance(29 * time.Minute)

	got, ok := s.Get(ctx, "k", "no-such-tag", false)
	if !ok || got.Stale {
		t.Errorf("Get() = %v, %v, want fresh hit", got, ok)
	}
}

func TestStore_FastTierEviction(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	cfg := DefaultConfig()
	cfg.MaxMemorySize = 2
	s, clock := newTestStore(t, cfg, slow)

	for i := 0; i < 3; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), []byte(`{}`), "30d", "")
		clock.Advance(time.Second)
	}

	st := s.Stats(ctx)
	if st.FastSize != 2 {
		t.Errorf("FastSize = %d, want 2", st.FastSize)
	}
	if st.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", st.Evictions)
	}

	// k0 left the fast tier but is still served (and promoted) from the slow tier
	got, ok := s.Get(ctx, "k0", "30d", false)
	if !ok {
		t.Fatal("Get(k0) miss, want slow-tier hit")
	}
	if got.Stale {
		t.Error("Stale = true, want false")
	}
	if _, ok := s.fast.Peek("k0"); !ok {
		t.Error("k0 was not promoted into the fast tier")
	}
}

func TestStore_FastTierLRUOrder(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxMemorySize = 2
	s, _ := newTestStore(t, cfg, nil)

	s.Set(ctx, "a", []byte(`{}`), "30d", "")
	s.Set(ctx, "b", []byte(`{}`), "30d", "")
	if _, ok := s.Get(ctx, "a", "30d", false); !ok {
		t.Fatal("Get(a) miss")
	}
	s.Set(ctx, "c", []byte(`{}`), "30d", "")

	if _, ok := s.Get(ctx, "a", "30d", false); !ok {
		t.Error("recently used entry a was evicted")
	}
	if _, ok := s.Get(ctx, "b", "30d", false); ok {
		t.Error("least recently used entry b was kept")
	}
}

func TestStore_StaleMissKeepsRecency(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxMemorySize = 2
	s, clock := newTestStore(t, cfg, nil)

	s.Set(ctx, "a", []byte(`{}`), "30d", "")
	s.Set(ctx, "b", []byte(`{}`), "30d", "")
	clock.Advance(35 * time.Minute)

	if _, ok := s.Get(ctx, "a", "30d", false); ok {
		t.Fatal("Get(a, allowStale=false) hit on stale entry")
	}
	s.Set(ctx, "c", []byte(`{}`), "30d", "")

	if _, ok := s.fast.Peek("a"); ok {
		t.Error("least recently accessed entry a was kept after a stale miss")
	}
	if _, ok := s.fast.Peek("b"); !ok {
		t.Error("entry b was evicted instead of a")
	}
}

func TestStore_FindReturnsPrior(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, DefaultConfig(), newFakeTier())

	if _, prior, ok := s.Find(ctx, "k", "30d", true); ok || prior != nil {
		t.Fatalf("Find(empty) = ok %v prior %v, want miss without prior", ok, prior)
	}

	s.Set(ctx, "k", []byte(`{}`), "30d", `"v1"`)
	lookup, prior, ok := s.Find(ctx, "k", "30d", true)
	if !ok || prior == nil || prior.ETag != `"v1"` {
		t.Fatalf("Find(fresh) = ok %v prior %v, want hit with prior", ok, prior)
	}
	if lookup.Entry == prior {
		t.Error("Find returned the same copy as entry and prior")
	}

	clock.Advance(65 * time.Minute)
	if _, prior, ok := s.Find(ctx, "k", "30d", true); ok || prior == nil || prior.ETag != `"v1"` {
		t.Errorf("Find(expired) = ok %v prior %v, want miss keeping the validator", ok, prior)
	}
	if _, ok := s.Peek(ctx, "k"); ok {
		t.Error("expired entry was not purged")
	}
}

func TestStore_SlowTierEviction(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	cfg := DefaultConfig()
	cfg.MaxSlowSize = 3
	s, clock := newTestStore(t, cfg, slow)

	for i := 0; i < 5; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), []byte(`{}`), "30d", "")
		clock.Advance(time.Second)
	}

	n, _ := slow.Len(ctx)
	if n != 3 {
		t.Errorf("slow tier size = %d, want 3", n)
	}
	for _, key := range []string{"k0", "k1"} {
		if slow.has(key) {
			t.Errorf("oldest record %s still in slow tier", key)
		}
	}
	for _, key := range []string{"k2", "k3", "k4"} {
		if !slow.has(key) {
			t.Errorf("record %s missing from slow tier", key)
		}
	}
	if got := s.Evict(ctx); got != 0 {
		t.Errorf("Evict() = %d, want 0 when within capacity", got)
	}
}

func TestStore_CorruptRecordIsMiss(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	s, clock := newTestStore(t, DefaultConfig(), slow)

	_ = slow.Save(ctx, "broken", []byte("{not json"), clock.Now())
	_ = slow.Save(ctx, "renamed", []byte(`{"key":"other","created_at":"2024-03-01T12:00:00Z","payload":"e30="}`), clock.Now())

	for _, key := range []string{"broken", "renamed"} {
		if _, ok := s.Get(ctx, key, "30d", true); ok {
			t.Errorf("Get(%s) hit, want miss", key)
		}
		if slow.has(key) {
			t.Errorf("corrupt record %s was not removed", key)
		}
	}
}

func TestStore_FailingSlowTier(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	slow.failAll = true
	s, _ := newTestStore(t, DefaultConfig(), slow)

	e := s.Set(ctx, "azuki_floor", []byte(`{"floor":10}`), "30m", "")
	if e == nil {
		t.Fatal("Set() returned nil")
	}

	got, ok := s.Get(ctx, "azuki_floor", "30m", false)
	if !ok {
		t.Fatal("Get() miss, want memory-tier hit")
	}
	if string(got.Entry.Payload) != `{"floor":10}` {
		t.Errorf("Payload = %s", got.Entry.Payload)
	}
	if _, ok := s.Get(ctx, "other", "30m", false); ok {
		t.Error("Get(other) hit, want miss")
	}

	st := s.Stats(ctx)
	if st.SlowSize != 0 {
		t.Errorf("SlowSize = %d, want 0", st.SlowSize)
	}
	s.Clear(ctx)
	if s.CleanupExpired(ctx) != 0 {
		t.Error("CleanupExpired() removed entries from an empty store")
	}
}

func TestStore_WriteFailureRelief(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	cfg := DefaultConfig()
	cfg.MaxSlowSize = 10
	s, clock := newTestStore(t, cfg, slow)

	for i := 0; i < 10; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), []byte(`{}`), "30d", "")
		clock.Advance(time.Second)
	}

	slow.failSet = true
	s.Set(ctx, "overflow", []byte(`{}`), "30d", "")

	// 10 > 8 (80% of capacity), so the oldest 30% (3 records) are dropped
	n, _ := slow.Len(ctx)
	if n != 7 {
		t.Errorf("slow tier size after relief = %d, want 7", n)
	}
	for _, key := range []string{"k0", "k1", "k2"} {
		if slow.has(key) {
			t.Errorf("record %s survived relief", key)
		}
	}
	if _, ok := s.Get(ctx, "overflow", "30d", false); !ok {
		t.Error("entry whose slow write failed is not served from memory")
	}
}

func TestStore_Revalidate(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	s, clock := newTestStore(t, DefaultConfig(), slow)

	s.Set(ctx, "azuki_floor", []byte(`{"floor":10}`), "30m", `"etag-1"`)
	clock.Advance(3 * time.Hour)

	prior, ok := s.Peek(ctx, "azuki_floor")
	if !ok {
		t.Fatal("Peek() miss on aged entry")
	}
	if _, ok := s.Get(ctx, "azuki_floor", "30m", true); ok {
		t.Fatal("Get() hit on expired entry")
	}

	e := s.Revalidate(ctx, "azuki_floor", prior)
	if !e.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, clock.Now())
	}

	got, ok := s.Get(ctx, "azuki_floor", "30m", false)
	if !ok {
		t.Fatal("Get() miss after Revalidate")
	}
	if got.Entry.ETag != `"etag-1"` || string(got.Entry.Payload) != `{"floor":10}` {
		t.Errorf("revalidated entry = %+v, want original payload and validator", got.Entry)
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	s, clock := newTestStore(t, DefaultConfig(), slow)

	s.Set(ctx, "short", []byte(`{}`), "30d", "") // stale window 1h
	s.Set(ctx, "long", []byte(`{}`), "1Y", "")   // stale window 12h
	_ = slow.Save(ctx, "garbage", []byte("xx"), clock.Now())

	clock.Advance(2 * time.Hour)

	// short: fast + slow, garbage: slow
	if got := s.CleanupExpired(ctx); got != 3 {
		t.Errorf("CleanupExpired() = %d, want 3", got)
	}
	if _, ok := s.Peek(ctx, "long"); !ok {
		t.Error("unexpired entry was removed")
	}
	if slow.has("short") || slow.has("garbage") {
		t.Error("expired or corrupt records left in slow tier")
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	s, _ := newTestStore(t, DefaultConfig(), slow)

	s.Set(ctx, "a", []byte(`{}`), "30d", "")
	s.Set(ctx, "b", []byte(`{}`), "30d", "")
	s.Clear(ctx)

	st := s.Stats(ctx)
	if st.FastSize != 0 || st.SlowSize != 0 {
		t.Errorf("sizes after Clear = %d/%d, want 0/0", st.FastSize, st.SlowSize)
	}
}

func TestStore_LargePayloadCompressed(t *testing.T) {
	ctx := context.Background()
	slow := newFakeTier()
	cfg := DefaultConfig()
	cfg.CompressionThreshold = 16
	s, _ := newTestStore(t, cfg, slow)

	payload := []byte(`[` + fmt.Sprintf("%0500d", 0) + `]`)
	s.Set(ctx, "big", payload, "90d", "")
	s.fast.Clear()

	got, ok := s.Get(ctx, "big", "90d", false)
	if !ok {
		t.Fatal("Get() miss on compressed slow-tier record")
	}
	if string(got.Entry.Payload) != string(payload) {
		t.Error("payload changed across compression")
	}
}

func TestStore_ReturnedEntryIsCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, DefaultConfig(), newFakeTier())

	payload := []byte(`{"floor":1}`)
	e := s.Set(ctx, "k", payload, "30d", `"a"`)
	e.ETag = "mutated"
	e.Payload[9] = '7'
	payload[9] = '8'

	first, _ := s.Get(ctx, "k", "30d", false)
	if first.Entry.ETag != `"a"` {
		t.Errorf("ETag = %v, stored entry was mutated through returned copy", first.Entry.ETag)
	}
	if string(first.Entry.Payload) != `{"floor":1}` {
		t.Errorf("Payload = %s, want %s", first.Entry.Payload, `{"floor":1}`)
	}

	first.Entry.Payload[9] = '9'
	second, _ := s.Get(ctx, "k", "30d", false)
	if string(second.Entry.Payload) != `{"floor":1}` {
		t.Errorf("Payload after caller write = %s, want %s", second.Entry.Payload, `{"floor":1}`)
	}

	peeked, _ := s.Peek(ctx, "k")
	peeked.Payload[9] = '6'
	third, _ := s.Get(ctx, "k", "30d", false)
	if string(third.Entry.Payload) != `{"floor":1}` {
		t.Errorf("Payload after Peek write = %s, want %s", third.Entry.Payload, `{"floor":1}`)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxMemorySize = 16
	s, _ := newTestStore(t, cfg, newFakeTier())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d", (i+j)%24)
				s.Set(ctx, key, []byte(`{}`), "30d", "")
				s.Get(ctx, key, "30d", true)
			}
		}(i)
	}
	wg.Wait()

	if st := s.Stats(ctx); st.FastSize > 16 {
		t.Errorf("FastSize = %d, exceeds capacity 16", st.FastSize)
	}
}
