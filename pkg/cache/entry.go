package cache

import (
	"bytes"
	"time"
)

// Entry represents a cached API payload.
type Entry struct {
	// Key is the resource key the payload was fetched for
	Key string `json:"key"`

	// Payload is the raw JSON response body
	Payload []byte `json:"payload"`

	// CreatedAt is when the payload was fetched (or last revalidated)
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt drives LRU eviction
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// ClassTag selects the TTL and stale window (e.g. "30d", "1h")
	ClassTag string `json:"class_tag"`

	// SizeBytes is the serialized payload size
	SizeBytes int `json:"size_bytes"`

	// Compressed is set when Payload holds the zstd-encoded form
	Compressed bool `json:"compressed"`

	// ETag is the validator token for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`
}

// Age returns how long ago the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// clone returns a copy safe to hand out while the original stays in a tier.
func (e *Entry) clone() *Entry {
	cp := *e
	cp.Payload = bytes.Clone(e.Payload)
	return &cp
}

// Lookup is the result of a successful Get.
type Lookup struct {
	Entry *Entry
	Stale bool
}
