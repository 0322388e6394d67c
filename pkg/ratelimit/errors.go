package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Common errors returned by the gate.
var (
	// ErrQueueFull is returned when a request is enqueued on a full queue.
	ErrQueueFull = errors.New("request queue is full")

	// ErrQueueCleared is returned to requests dropped by Clear.
	ErrQueueCleared = errors.New("request queue cleared")

	// ErrGateClosed is returned once the gate no longer accepts work.
	ErrGateClosed = errors.New("rate limit gate closed")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrOperationPanic is returned when an operation panics. It is not retried.
	ErrOperationPanic = errors.New("operation panicked")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassNotRetryable represents 401/403/404 responses and panics.
	ErrorClassNotRetryable ErrorClass = "not_retryable"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents every other failure.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassQueueFull marks requests rejected before dispatch.
	ErrorClassQueueFull ErrorClass = "queue_full"
)

// StatusError is a non-success HTTP response from upstream.
type StatusError struct {
	StatusCode int
	Status     string

	// RetryAfter is the server-provided delay, zero when absent
	RetryAfter time.Duration

	// Header holds the response headers (rate-limit state may be present)
	Header http.Header
}

// NewStatusError builds a StatusError from a response. The body is not read.
func NewStatusError(resp *http.Response) *StatusError {
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Header:     resp.Header.Clone(),
	}
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream returned %s", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Classify maps an error to its retry class.
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrQueueFull) {
		return ErrorClassQueueFull
	}
	if errors.Is(err, ErrOperationPanic) {
		return ErrorClassNotRetryable
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return ErrorClassNotRetryable
		case http.StatusTooManyRequests:
			return ErrorClassRateLimit
		default:
			return ErrorClassServer
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	return ErrorClassServer
}

// IsRetryable reports whether an error of this class should be retried.
func (c ErrorClass) IsRetryable() bool {
	return c != ErrorClassNotRetryable && c != ErrorClassQueueFull
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
