package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NPFdevops/nft-floor-compare/pkg/logging"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int
	// Timeout per item fetch; zero leaves it to the caller's context
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
	}
}

// ItemFetcher loads the payload for one key.
type ItemFetcher interface {
	FetchItem(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc adapts a function to ItemFetcher.
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

// FetchItem implements ItemFetcher.
func (f FetcherFunc) FetchItem(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// ItemError reports the failure of one key.
type ItemError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ItemError) Unwrap() error {
	return e.Err
}

type itemResult struct {
	key  string
	data []byte
	err  error
}

// Fetcher runs item fetches on a worker pool.
type Fetcher struct {
	fetcher ItemFetcher
	config  Config
}

// New creates a batch fetcher.
func New(fetcher ItemFetcher, config Config) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Fetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAll fetches every key and returns key -> payload for the successful
// ones. Duplicate keys are fetched once. If any item fails the returned
// error joins one *ItemError per failed key, alongside the partial results.
func (f *Fetcher) FetchAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	logger := logging.NewLogger("batch")
	start := time.Now()

	unique := dedupe(keys)
	results := make(map[string][]byte, len(unique))
	if len(unique) == 0 {
		return results, nil
	}

	queue := make(chan string, len(unique))
	for _, key := range unique {
		queue <- key
	}
	close(queue)

	workers := min(f.config.MaxConcurrency, len(unique))
	out := make(chan itemResult, len(unique))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(ctx, queue, out, &wg)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var errs []error
	for r := range out {
		if r.err != nil {
			logger.Warn().
				Err(r.err).
				Str("key", r.key).
				Msg("Batch item failed")
			errs = append(errs, &ItemError{Key: r.key, Err: r.err})
			continue
		}
		results[r.key] = r.data
	}

	logger.Debug().
		Int("items", len(unique)).
		Int("failed", len(errs)).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, errors.Join(errs...)
}

// worker processes keys from the queue. Keys left after ctx ends are
// reported with the context error.
func (f *Fetcher) worker(ctx context.Context, queue <-chan string, out chan<- itemResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for key := range queue {
		if err := ctx.Err(); err != nil {
			out <- itemResult{key: key, err: err}
			continue
		}

		itemCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.config.Timeout > 0 {
			itemCtx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		}
		data, err := f.fetcher.FetchItem(itemCtx, key)
		cancel()

		out <- itemResult{key: key, data: data, err: err}
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	unique := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}
	return unique
}
