package ratelimit

import (
	"time"
)

// Window is a sliding log of request timestamps. It is not safe for
// concurrent use; the Gate serializes access.
type Window struct {
	max    int
	size   time.Duration
	stamps []time.Time
}

// NewWindow creates a window admitting at most max requests per size.
func NewWindow(max int, size time.Duration) *Window {
	return &Window{max: max, size: size}
}

// prune drops timestamps that have left the window.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]
}

// Count returns the number of requests inside the window.
func (w *Window) Count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}

// Allow reports whether another request may be dispatched now.
func (w *Window) Allow(now time.Time) bool {
	return w.Count(now) < w.max
}

// Wait returns how long until the oldest timestamp leaves the window,
// or zero when a request may be dispatched now.
func (w *Window) Wait(now time.Time) time.Duration {
	if w.Allow(now) || len(w.stamps) == 0 {
		return 0
	}
	next := w.stamps[0].Add(w.size)
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Record adds a dispatch at now.
func (w *Window) Record(now time.Time) {
	w.prune(now)
	w.stamps = append(w.stamps, now)
}

// Remaining returns how many requests the window still admits.
func (w *Window) Remaining(now time.Time) int {
	if r := w.max - w.Count(now); r > 0 {
		return r
	}
	return 0
}
