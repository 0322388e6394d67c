package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Key represents a unique identifier for a cached floor-price API result.
type Key struct {
	// Collection is the collection slug (e.g., "azuki")
	Collection string

	// Metric is the queried resource (e.g., "history", "floor", "search")
	Metric string

	// Params are the query parameters (e.g., {"days": "30"})
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: collection_metric_param1=val1_param2=val2
//
// Example:
//
//	azuki_history_days=30
func (k Key) String() string {
	var parts []string

	if c := strings.ToLower(strings.TrimSpace(k.Collection)); c != "" {
		parts = append(parts, c)
	}
	if k.Metric != "" {
		parts = append(parts, k.Metric)
	}

	// Add params (sorted for determinism)
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params.Get(name)))
		}
	}

	return strings.Join(parts, "_")
}

// HistoryKey builds the key for a floor-price history range.
// Format: slug_granularity_startDate_endDate[_timeframe], dates as YYYY-MM-DD (UTC).
//
// Example:
//
//	azuki_1d_2024-01-01_2024-01-31_30d
func HistoryKey(slug, granularity string, start, end time.Time, timeframe string) string {
	key := fmt.Sprintf("%s_%s_%s_%s",
		slug, granularity,
		start.UTC().Format(time.DateOnly),
		end.UTC().Format(time.DateOnly))
	if timeframe != "" {
		key += "_" + timeframe
	}
	return key
}
