package client

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Result is the outcome of one upstream fetch, shared by every caller that
// asked for the same key while it was in flight.
type Result struct {
	Payload []byte
	ETag    string

	// Revalidated is set when upstream answered 304 and the cached copy was kept
	Revalidated bool
}

// Deduplicator coalesces concurrent fetches of the same key into one call.
// The registration is dropped when the call settles, so the next call for
// the key starts a new fetch.
type Deduplicator struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{inflight: make(map[string]struct{})}
}

// Do runs fn once per key among concurrent callers and hands every caller
// the same *Result or error. shared reports whether the result was also
// delivered to other callers.
//
// fn runs detached from the caller's cancellation: a caller whose ctx ends
// stops waiting and gets ctx.Err(), while the shared call continues for the
// remaining waiters. A panic in fn is returned as ErrFetcherPanic.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func(context.Context) (*Result, error)) (*Result, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := d.group.DoChan(key, func() (interface{}, error) {
		d.track(key, true)
		defer d.track(key, false)
		return d.run(detached, fn)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Shared, r.Err
		}
		return r.Val.(*Result), r.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (d *Deduplicator) run(ctx context.Context, fn func(context.Context) (*Result, error)) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrFetcherPanic, r)
		}
	}()

	res, err = fn(ctx)
	if err == nil && res == nil {
		err = ErrNoResponse
	}
	return res, err
}

func (d *Deduplicator) track(key string, start bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if start {
		d.inflight[key] = struct{}{}
	} else {
		delete(d.inflight, key)
	}
	inflightFetches.Set(float64(len(d.inflight)))
}

// InFlight returns the keys with a fetch in progress.
func (d *Deduplicator) InFlight() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.inflight))
	for k := range d.inflight {
		keys = append(keys, k)
	}
	return keys
}

// Pending reports whether a fetch for key is in progress.
func (d *Deduplicator) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.inflight[key]
	return ok
}
