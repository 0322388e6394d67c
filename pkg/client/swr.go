package client

import (
	"context"

	"github.com/NPFdevops/nft-floor-compare/pkg/cache"
)

// Action is the stale-while-revalidate decision for a lookup.
type Action int

const (
	// ActionMiss means no usable cached copy exists; the caller must fetch.
	ActionMiss Action = iota
	// ActionFresh means the cached copy is served as is.
	ActionFresh
	// ActionStale means the cached copy is served and refreshed in the background.
	ActionStale
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionFresh:
		return "fresh"
	case ActionStale:
		return "stale"
	default:
		return "miss"
	}
}

// Verdict is the result of Resolve.
type Verdict struct {
	Action Action

	// Entry is the cached copy to serve (FRESH and STALE only)
	Entry *cache.Entry

	// Prior is whatever was stored before the lookup, possibly purged by it.
	// Its validator drives conditional revalidation.
	Prior *cache.Entry
}

// Policy classifies cache lookups for stale-while-revalidate.
type Policy struct {
	store *cache.Store
}

// NewPolicy creates a policy over store.
func NewPolicy(store *cache.Store) *Policy {
	return &Policy{store: store}
}

// Resolve looks up key and decides whether to serve, serve and refresh, or fetch.
func (p *Policy) Resolve(ctx context.Context, key, classTag string) Verdict {
	lookup, prior, ok := p.store.Find(ctx, key, classTag, true)
	switch {
	case !ok:
		return Verdict{Action: ActionMiss, Prior: prior}
	case lookup.Stale:
		return Verdict{Action: ActionStale, Entry: lookup.Entry, Prior: prior}
	default:
		return Verdict{Action: ActionFresh, Entry: lookup.Entry, Prior: prior}
	}
}
