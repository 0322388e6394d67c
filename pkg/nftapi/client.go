// Package nftapi is the floor-price API client. Every call goes through the
// caching orchestrator, so repeated and concurrent lookups share one
// rate-limited upstream request.
package nftapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NPFdevops/nft-floor-compare/pkg/batch"
	"github.com/NPFdevops/nft-floor-compare/pkg/cache"
	"github.com/NPFdevops/nft-floor-compare/pkg/client"
	"github.com/NPFdevops/nft-floor-compare/pkg/logging"
	"github.com/NPFdevops/nft-floor-compare/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public floor-price API.
const DefaultBaseURL = "https://api.nftpricefloor.com"

const (
	defaultDays     = 30
	searchLimit     = 10
	maxPayloadBytes = 8 << 20
)

var (
	// ErrInvalidSlug is returned for an empty collection slug.
	ErrInvalidSlug = errors.New("invalid collection slug")

	// ErrInvalidPayload is returned when upstream answers 2xx with a body that is not JSON.
	ErrInvalidPayload = errors.New("upstream returned invalid JSON")
)

// Config holds the API client configuration.
type Config struct {
	// BaseURL of the floor-price API
	BaseURL string

	// UserAgent sent with every request
	UserAgent string

	// HTTPClient performs the requests; nil uses a client without timeout,
	// attempts are bounded by the rate limit gate
	HTTPClient *http.Client

	// Batch configures the comparison worker pool
	Batch batch.Config
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: "nft-floor-compare/1.0",
		Batch:     batch.DefaultConfig(),
	}
}

// Client fetches floor-price resources through the orchestrator.
type Client struct {
	floor     *client.Client
	http      *http.Client
	baseURL   string
	userAgent string
	batch     batch.Config
	logger    zerolog.Logger
}

// New creates an API client on top of floor.
func New(floor *client.Client, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		floor:     floor,
		http:      cfg.HTTPClient,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		batch:     cfg.Batch,
		logger:    logging.NewLogger("nftapi"),
	}
}

// Orchestrator returns the underlying caching client.
func (c *Client) Orchestrator() *client.Client {
	return c.floor
}

// ClassTagForDays maps a history range to its TTL class.
func ClassTagForDays(days int) string {
	switch {
	case days <= 30:
		return "30d"
	case days <= 90:
		return "90d"
	default:
		return "1Y"
	}
}

// FloorPriceHistory returns the floor-price history of slug for a range of
// days; days <= 0 means 30.
func (c *Client) FloorPriceHistory(ctx context.Context, slug string, days int) (*FloorHistory, error) {
	payload, err := c.historyPayload(ctx, slug, days)
	if err != nil {
		return nil, err
	}

	var h FloorHistory
	if err := json.Unmarshal(payload, &h); err != nil {
		return nil, fmt.Errorf("decode floor price history: %w", err)
	}
	h.Slug = normalizeSlug(slug)
	if h.CollectionName == "" {
		h.CollectionName = h.Slug
	}
	return &h, nil
}

func (c *Client) historyPayload(ctx context.Context, slug string, days int) ([]byte, error) {
	slug = normalizeSlug(slug)
	if slug == "" {
		return nil, ErrInvalidSlug
	}
	if days <= 0 {
		days = defaultDays
	}

	query := url.Values{"days": {strconv.Itoa(days)}}
	key := cache.Key{Collection: slug, Metric: "history", Params: query}
	path := "/v1/collection/" + url.PathEscape(slug) + "/floor-price-history"
	return c.floor.GetOrFetch(ctx, key.String(), ClassTagForDays(days), c.fetcher(path, query))
}

// CurrentFloorPrice returns the latest floor price of slug.
func (c *Client) CurrentFloorPrice(ctx context.Context, slug string) (*CurrentFloor, error) {
	slug = normalizeSlug(slug)
	if slug == "" {
		return nil, ErrInvalidSlug
	}

	key := cache.Key{Collection: slug, Metric: "floor"}
	path := "/v1/collection/" + url.PathEscape(slug) + "/current"
	payload, err := c.floor.GetOrFetch(ctx, key.String(), "30m", c.fetcher(path, nil),
		client.WithPriority(ratelimit.PriorityHigh))
	if err != nil {
		return nil, err
	}

	var f CurrentFloor
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("decode current floor price: %w", err)
	}
	f.Slug = slug
	if f.Currency == "" {
		f.Currency = "ETH"
	}
	return &f, nil
}

// SearchCollections returns up to ten collections matching query.
func (c *Client) SearchCollections(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &SearchResult{Collections: []Collection{}}, nil
	}

	params := url.Values{"q": {query}, "limit": {strconv.Itoa(searchLimit)}}
	key := cache.Key{Metric: "search", Params: url.Values{"q": {strings.ToLower(query)}}}
	payload, err := c.floor.GetOrFetch(ctx, key.String(), "1h", c.fetcher("/v1/search/collections", params))
	if err != nil {
		return nil, err
	}

	var r SearchResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	r.Query = query
	if r.Collections == nil {
		r.Collections = []Collection{}
	}
	return &r, nil
}

// CollectionDetails returns the metrics of slug.
func (c *Client) CollectionDetails(ctx context.Context, slug string) (*CollectionDetails, error) {
	slug = normalizeSlug(slug)
	if slug == "" {
		return nil, ErrInvalidSlug
	}

	key := cache.Key{Collection: slug, Metric: "details"}
	path := "/v1/collection/" + url.PathEscape(slug)
	payload, err := c.floor.GetOrFetch(ctx, key.String(), "1h", c.fetcher(path, nil))
	if err != nil {
		return nil, err
	}

	var d CollectionDetails
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("decode collection details: %w", err)
	}
	if d.Slug == "" {
		d.Slug = slug
	}
	if d.Currency == "" {
		d.Currency = "ETH"
	}
	return &d, nil
}

// Compare fetches the histories of a and b in parallel and summarizes both.
// Both must succeed.
func (c *Client) Compare(ctx context.Context, a, b string, days int) (*Comparison, error) {
	if days <= 0 {
		days = defaultDays
	}
	slugs := []string{normalizeSlug(a), normalizeSlug(b)}
	for _, s := range slugs {
		if s == "" {
			return nil, ErrInvalidSlug
		}
	}

	start := time.Now()
	fetcher := batch.New(batch.FetcherFunc(func(ctx context.Context, slug string) ([]byte, error) {
		return c.historyPayload(ctx, slug, days)
	}), c.batch)

	payloads, err := fetcher.FetchAll(ctx, slugs)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{Days: days, Series: make([]Series, 0, len(slugs))}
	for _, slug := range slugs {
		var h FloorHistory
		if err := json.Unmarshal(payloads[slug], &h); err != nil {
			return nil, fmt.Errorf("decode floor price history of %s: %w", slug, err)
		}
		name := h.CollectionName
		if name == "" {
			name = slug
		}
		points := h.Points()
		cmp.Series = append(cmp.Series, Series{
			Slug:    slug,
			Name:    name,
			Points:  points,
			Summary: Summarize(points),
		})
	}

	c.logger.Debug().
		Str("a", slugs[0]).
		Str("b", slugs[1]).
		Int("days", days).
		Dur("duration", time.Since(start)).
		Msg("Comparison built")
	return cmp, nil
}

// fetcher builds the upstream request for path. The cached validator is sent
// as If-None-Match; non-2xx statuses become *ratelimit.StatusError.
func (c *Client) fetcher(path string, query url.Values) client.Fetcher {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return func(ctx context.Context, validator string) (*client.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		cache.AddConditionalHeaders(req, validator)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		defer resp.Body.Close()

		if cache.IsNotModified(resp) {
			return &client.Response{Header: resp.Header, NotModified: true}, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			c.logger.Debug().
				Str("path", path).
				Int("status_code", resp.StatusCode).
				Msg("Upstream returned non-success status")
			return nil, ratelimit.NewStatusError(resp)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, path)
		}
		return &client.Response{Payload: body, Header: resp.Header}, nil
	}
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
