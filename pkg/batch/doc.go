// Package batch fetches several collections in parallel through a bounded
// worker pool.
//
// A comparison view needs the same resource for two or more collections.
// Each item is fetched independently; failures are collected per item and
// the successful results are still returned.
//
// Example usage:
//
//	fetcher := batch.New(batch.FetcherFunc(api.historyPayload), batch.DefaultConfig())
//	results, err := fetcher.FetchAll(ctx, []string{"azuki", "pudgy-penguins"})
//
// Requests still pass through the rate limit gate, so the pool size bounds
// goroutines waiting on the gate, not upstream concurrency.
package batch
