// Package ratelimit implements the upstream request budget: a sliding request
// window, server-reported rate-limit state (x-ratelimit-* headers), and a
// bounded priority queue that dispatches requests one at a time with retry.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Rate-limit response headers.
const (
	HeaderRemaining  = "X-Ratelimit-Remaining"
	HeaderReset      = "X-Ratelimit-Reset"
	HeaderLimit      = "X-Ratelimit-Limit"
	HeaderRetryAfter = "Retry-After"
)

// epochThreshold separates absolute reset timestamps (epoch seconds) from
// relative ones (seconds until reset).
const epochThreshold = 1_000_000_000

// State represents the server-reported rate limit state.
type State struct {
	// Remaining is the number of requests the server still allows.
	// Extracted from the x-ratelimit-remaining header.
	Remaining int `json:"remaining"`

	// Limit is the server's window budget, zero when not reported.
	Limit int `json:"limit,omitempty"`

	// ResetAt is when the server window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`
}

// IsCurrent reports whether the state still describes the server window.
// State past its reset time no longer constrains admission.
func (s *State) IsCurrent(now time.Time) bool {
	return s != nil && now.Before(s.ResetAt)
}

// Exhausted returns true if the server allows no further requests before reset.
func (s *State) Exhausted() bool {
	return s.Remaining <= 0
}

// TimeUntilReset returns the duration until the server window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// parseHeaders extracts rate limit state from response headers. ok is false
// when the response carries no rate limit headers. prev supplies the reset
// time when only the remaining count is reported; fallback is used when
// neither the headers nor prev provide one.
func parseHeaders(h http.Header, now time.Time, prev *State, fallback time.Duration) (*State, bool, error) {
	remainStr := h.Get(HeaderRemaining)
	resetStr := h.Get(HeaderReset)
	if remainStr == "" && resetStr == "" {
		return nil, false, nil
	}

	state := &State{LastUpdate: now}
	if prev != nil {
		state.Remaining = prev.Remaining
		state.Limit = prev.Limit
		state.ResetAt = prev.ResetAt
	}

	if remainStr != "" {
		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		state.Remaining = remain
	}

	if resetStr != "" {
		resetAt, err := parseReset(resetStr, now)
		if err != nil {
			return nil, false, err
		}
		state.ResetAt = resetAt
	} else if !state.IsCurrent(now) {
		state.ResetAt = now.Add(fallback)
	}

	if limitStr := h.Get(HeaderLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	return state, true, nil
}

// parseReset accepts epoch seconds or seconds until reset.
func parseReset(v string, now time.Time) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}
	if n > epochThreshold {
		return time.Unix(n, 0), nil
	}
	return now.Add(time.Duration(n) * time.Second), nil
}
