package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "https://api.nftpricefloor.com", cfg.UpstreamURL)
	assert.Equal(t, BackendMemory, cfg.CacheBackend)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.Equal(t, 16*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}, cfg.RetryDelays)
	assert.Equal(t, "nft_cache_v3:", cfg.CachePrefixOrDefault())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("FLOOR_ADDR", ":9090")
	t.Setenv("FLOOR_CACHE_BACKEND", "redis")
	t.Setenv("FLOOR_REDIS_ADDR", "localhost:6379")
	t.Setenv("FLOOR_RATE_LIMIT_REQUESTS", "10")
	t.Setenv("FLOOR_RATE_LIMIT_WINDOW", "1m")
	t.Setenv("FLOOR_RETRY_DELAYS", "100ms,1s")
	t.Setenv("FLOOR_LOG_PRETTY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, BackendRedis, cfg.CacheBackend)
	assert.True(t, cfg.LogPretty)

	cc := cfg.Client()
	assert.Equal(t, 10, cc.RateLimit.MaxRequestsPerWindow)
	assert.Equal(t, time.Minute, cc.RateLimit.WindowSize)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, time.Second}, cc.RateLimit.RetryDelays)
	assert.Equal(t, time.Second, cc.RateLimit.WindowBuffer, "buffer keeps its library default")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"FLOOR_CACHE_BACKEND": "memcached"}},
		{"redis without addr", map[string]string{"FLOOR_CACHE_BACKEND": "redis"}},
		{"zero budget", map[string]string{"FLOOR_RATE_LIMIT_REQUESTS": "0"}},
		{"negative retries", map[string]string{"FLOOR_MAX_RETRIES": "-1"}},
		{"malformed duration", map[string]string{"FLOOR_RATE_LIMIT_WINDOW": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_API(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.CompareWorkers = 2

	api := cfg.API()
	assert.Equal(t, cfg.UpstreamURL, api.BaseURL)
	assert.Equal(t, 2, api.Batch.MaxConcurrency)
}
