package client

import (
	"errors"
	"fmt"

	"github.com/NPFdevops/nft-floor-compare/pkg/ratelimit"
)

var (
	// ErrFetcherPanic is returned to every waiter when a fetcher panics.
	ErrFetcherPanic = errors.New("fetcher panicked")

	// ErrNoResponse is returned when a fetcher reports success without a response.
	ErrNoResponse = errors.New("fetcher returned no response")

	// ErrClosed is returned by GetOrFetch after Close.
	ErrClosed = errors.New("client closed")
)

// FetchError is returned when a cache miss could not be filled.
type FetchError struct {
	Key   string
	Class ratelimit.ErrorClass
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q (%s): %v", e.Key, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(key string, err error) *FetchError {
	return &FetchError{Key: key, Class: ratelimit.Classify(err), Err: err}
}
