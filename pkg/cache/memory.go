package cache

import (
	"github.com/jellydator/ttlcache/v3"
)

// MemoryTier is the fast in-process tier. Capacity is enforced by ttlcache,
// which drops the least recently used entry when a new key would exceed it.
// Entries carry no ttlcache TTL; freshness is decided by the Store.
// A MemoryTier is not safe for concurrent use; the Store serializes access.
type MemoryTier struct {
	items *ttlcache.Cache[string, *Entry]

	// index serves lookups that must not reorder the LRU list. Keys that
	// ttlcache evicted are dropped from it on the next eviction or lookup.
	index    map[string]*Entry
	capacity int
}

// NewMemoryTier creates a fast tier bounded to capacity entries.
func NewMemoryTier(capacity int) *MemoryTier {
	if capacity <= 0 {
		capacity = DefaultMaxMemorySize
	}
	return &MemoryTier{
		items: ttlcache.New[string, *Entry](
			ttlcache.WithCapacity[string, *Entry](uint64(capacity)),
			ttlcache.WithDisableTouchOnHit[string, *Entry](),
		),
		index:    make(map[string]*Entry),
		capacity: capacity,
	}
}

// Peek returns the entry without changing its recency.
func (m *MemoryTier) Peek(key string) (*Entry, bool) {
	e, ok := m.index[key]
	if !ok {
		return nil, false
	}
	if !m.items.Has(key) {
		delete(m.index, key)
		return nil, false
	}
	return e, true
}

// Touch marks key most recently used.
func (m *MemoryTier) Touch(key string) {
	m.items.Touch(key)
}

// Put stores the entry and returns how many entries were evicted to make room.
func (m *MemoryTier) Put(e *Entry) int {
	existed := m.items.Has(e.Key)
	before := m.items.Len()

	m.items.Set(e.Key, e, ttlcache.NoTTL)
	m.index[e.Key] = e

	evicted := before - m.items.Len()
	if !existed {
		evicted++
	}
	if evicted > 0 {
		m.prune()
	}
	return evicted
}

// prune drops index keys that ttlcache no longer holds.
func (m *MemoryTier) prune() {
	for key := range m.index {
		if !m.items.Has(key) {
			delete(m.index, key)
		}
	}
}

// Delete removes an entry.
func (m *MemoryTier) Delete(key string) {
	m.items.Delete(key)
	delete(m.index, key)
}

// Entries returns a snapshot of all entries.
func (m *MemoryTier) Entries() []*Entry {
	items := m.items.Items()
	out := make([]*Entry, 0, len(items))
	for _, item := range items {
		out = append(out, item.Value())
	}
	return out
}

// Len returns the number of entries.
func (m *MemoryTier) Len() int {
	return m.items.Len()
}

// Capacity returns the maximum number of entries.
func (m *MemoryTier) Capacity() int {
	return m.capacity
}

// Clear removes all entries.
func (m *MemoryTier) Clear() {
	m.items.DeleteAll()
	clear(m.index)
}
