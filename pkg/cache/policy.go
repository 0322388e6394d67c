package cache

import (
	"time"
)

// Freshness classifies an entry by age.
type Freshness int

const (
	// Fresh entries are younger than their TTL.
	Fresh Freshness = iota
	// Stale entries are past their TTL but inside the stale window.
	Stale
	// Expired entries are past the stale window and must be purged.
	Expired
)

// String implements fmt.Stringer.
func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Class holds the freshness limits for one class tag.
type Class struct {
	TTL         time.Duration
	StaleWindow time.Duration
}

// Classify returns the freshness of an entry of the given age.
func (c Class) Classify(age time.Duration) Freshness {
	switch {
	case age < c.TTL:
		return Fresh
	case age < c.StaleWindow:
		return Stale
	default:
		return Expired
	}
}

// DefaultClassTag is used for tags missing from the policy table.
const DefaultClassTag = "default"

// TTLPolicy is a static lookup table from class tag to Class.
type TTLPolicy struct {
	classes  map[string]Class
	fallback Class
}

// NewTTLPolicy builds a policy. A stale window shorter than its TTL is raised
// to the TTL so StaleWindow >= TTL always holds.
func NewTTLPolicy(classes map[string]Class, fallback Class) *TTLPolicy {
	p := &TTLPolicy{
		classes:  make(map[string]Class, len(classes)),
		fallback: normalizeClass(fallback),
	}
	for tag, c := range classes {
		p.classes[tag] = normalizeClass(c)
	}
	return p
}

// DefaultTTLPolicy returns the timeframe-aware table used by the dashboard.
// Tags without an explicit stale window use the default stale window.
func DefaultTTLPolicy() *TTLPolicy {
	const defaultStale = 2 * time.Hour
	return NewTTLPolicy(map[string]Class{
		"30d": {TTL: 30 * time.Minute, StaleWindow: 1 * time.Hour},
		"90d": {TTL: 2 * time.Hour, StaleWindow: 4 * time.Hour},
		"1Y":  {TTL: 6 * time.Hour, StaleWindow: 12 * time.Hour},
		"YTD": {TTL: 6 * time.Hour, StaleWindow: 12 * time.Hour},
		"30m": {TTL: 30 * time.Minute, StaleWindow: defaultStale}, // ETag-validated lookups
		"1h":  {TTL: 1 * time.Hour, StaleWindow: defaultStale},    // collection lists
	}, Class{TTL: 30 * time.Minute, StaleWindow: defaultStale})
}

// Lookup returns the Class for a tag, falling back to the default class.
// Unknown tags are never an error.
func (p *TTLPolicy) Lookup(classTag string) Class {
	if c, ok := p.classes[classTag]; ok {
		return c
	}
	return p.fallback
}

func normalizeClass(c Class) Class {
	if c.StaleWindow < c.TTL {
		c.StaleWindow = c.TTL
	}
	return c
}
