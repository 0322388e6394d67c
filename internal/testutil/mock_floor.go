// Package testutil provides a mock floor-price API for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFloorAPI is a configurable mock of the floor-price API.
type MockFloorAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	lastRequestHeader http.Header
	lastQuery         map[string]string
}

// NewMockFloorAPI starts a new mock server.
func NewMockFloorAPI() *MockFloorAPI {
	mock := &MockFloorAPI{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		mock.lastQuery = make(map[string]string)
		for k := range r.URL.Query() {
			mock.lastQuery[k] = r.URL.Query().Get(k)
		}
		if r.Header.Get("If-None-Match") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"message":"collection not found"}`)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFloorAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFloorAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFloorAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
	m.lastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockFloorAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockFloorAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// HistoryPath returns the floor-price history path of slug.
func HistoryPath(slug string) string {
	return fmt.Sprintf("/v1/collection/%s/floor-price-history", slug)
}

// CurrentPath returns the current floor path of slug.
func CurrentPath(slug string) string {
	return fmt.Sprintf("/v1/collection/%s/current", slug)
}

// DetailsPath returns the collection details path of slug.
func DetailsPath(slug string) string {
	return fmt.Sprintf("/v1/collection/%s", slug)
}

// SearchPath is the collection search path.
const SearchPath = "/v1/search/collections"

// RequestCount returns the number of requests made to the server.
func (m *MockFloorAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made to path.
func (m *MockFloorAPI) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// ConditionalCount returns the number of conditional requests.
func (m *MockFloorAPI) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockFloorAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockFloorAPI) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// NewHealthyResponse creates a 200 OK response with rate limit headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-Ratelimit-Remaining": "4",
			"X-Ratelimit-Limit":     "5",
			"X-Ratelimit-Reset":     "960",
			"Content-Type":          "application/json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"rate limit exceeded"}`,
		Headers: map[string]string{
			"X-Ratelimit-Remaining": "0",
			"X-Ratelimit-Reset":     "960",
			"Retry-After":           fmt.Sprint(retryAfter),
			"Content-Type":          "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewConditionalHandler answers 304 when If-None-Match carries etag.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", etag)

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}

// HistoryJSON builds a floor-price history body in the upstream shape.
func HistoryJSON(name string, timestamps []int64, floors []float64) string {
	points := ""
	for i := range timestamps {
		if i > 0 {
			points += ","
		}
		points += fmt.Sprintf(`{"timestamp":%d,"floor_price":%g}`, timestamps[i], floors[i])
	}
	return fmt.Sprintf(`{"collection_name":%q,"price_history":[%s]}`, name, points)
}
