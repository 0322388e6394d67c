// Package config loads the floorcache service configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/NPFdevops/nft-floor-compare/pkg/cache"
	"github.com/NPFdevops/nft-floor-compare/pkg/client"
	"github.com/NPFdevops/nft-floor-compare/pkg/logging"
	"github.com/NPFdevops/nft-floor-compare/pkg/nftapi"
	"github.com/NPFdevops/nft-floor-compare/pkg/ratelimit"
	"github.com/caarlos0/env/v11"
)

// Persistent cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the service configuration.
type Config struct {
	Addr            string        `env:"FLOOR_ADDR"             envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"FLOOR_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	UpstreamURL string `env:"FLOOR_UPSTREAM_URL" envDefault:"https://api.nftpricefloor.com"`
	UserAgent   string `env:"FLOOR_USER_AGENT"   envDefault:"nft-floor-compare/1.0"`

	LogLevel  string `env:"FLOOR_LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"FLOOR_LOG_PRETTY" envDefault:"false"`

	// CacheBackend selects the persistent tier: memory (none), redis or sqlite
	CacheBackend        string        `env:"FLOOR_CACHE_BACKEND"         envDefault:"memory"`
	CachePrefix         string        `env:"FLOOR_CACHE_PREFIX"          envDefault:"nft_cache_v3:"`
	MaxMemoryEntries    int           `env:"FLOOR_CACHE_MEMORY_ENTRIES"  envDefault:"200"`
	MaxPersistEntries   int           `env:"FLOOR_CACHE_PERSIST_ENTRIES" envDefault:"800"`
	CompressionBytes    int           `env:"FLOOR_CACHE_COMPRESS_BYTES"  envDefault:"5000"`
	MaintenanceInterval time.Duration `env:"FLOOR_CACHE_MAINTENANCE"     envDefault:"5m"`
	SQLitePath          string        `env:"FLOOR_SQLITE_PATH"           envDefault:"floorcache.db"`

	// RedisAddr also enables mirroring of rate limit state when set
	RedisAddr     string `env:"FLOOR_REDIS_ADDR"`
	RedisPassword string `env:"FLOOR_REDIS_PASSWORD"`
	RedisDB       int    `env:"FLOOR_REDIS_DB" envDefault:"0"`

	RateLimitRequests int             `env:"FLOOR_RATE_LIMIT_REQUESTS" envDefault:"5"`
	RateLimitWindow   time.Duration   `env:"FLOOR_RATE_LIMIT_WINDOW"   envDefault:"16m"`
	RetryDelays       []time.Duration `env:"FLOOR_RETRY_DELAYS"        envDefault:"1s,2s,5s,10s,30s" envSeparator:","`
	MaxRetries        int             `env:"FLOOR_MAX_RETRIES"         envDefault:"4"`
	RequestTimeout    time.Duration   `env:"FLOOR_REQUEST_TIMEOUT"     envDefault:"45s"`
	QueueSize         int             `env:"FLOOR_QUEUE_SIZE"          envDefault:"20"`
	PolitenessDelay   time.Duration   `env:"FLOOR_POLITENESS_DELAY"    envDefault:"500ms"`

	CompareWorkers int `env:"FLOOR_COMPARE_WORKERS" envDefault:"4"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the service configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the libraries would silently replace.
func (c Config) Validate() error {
	switch c.CacheBackend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("FLOOR_CACHE_BACKEND=redis requires FLOOR_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("FLOOR_RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("FLOOR_RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("FLOOR_MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

// Client returns the orchestrator configuration. The persistent tier and the
// Redis client are attached by the caller.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig()
	cfg.Cache.MaxMemorySize = c.MaxMemoryEntries
	cfg.Cache.MaxSlowSize = c.MaxPersistEntries
	cfg.Cache.CompressionThreshold = c.CompressionBytes
	cfg.MaintenanceInterval = c.MaintenanceInterval

	rl := ratelimit.DefaultConfig()
	rl.MaxRequestsPerWindow = c.RateLimitRequests
	rl.WindowSize = c.RateLimitWindow
	rl.RetryDelays = c.RetryDelays
	rl.MaxRetries = c.MaxRetries
	rl.Timeout = c.RequestTimeout
	rl.QueueSize = c.QueueSize
	rl.PolitenessDelay = c.PolitenessDelay
	cfg.RateLimit = rl
	return cfg
}

// API returns the upstream API client configuration.
func (c Config) API() nftapi.Config {
	cfg := nftapi.DefaultConfig()
	cfg.BaseURL = c.UpstreamURL
	cfg.UserAgent = c.UserAgent
	cfg.Batch.MaxConcurrency = c.CompareWorkers
	return cfg
}

// CachePrefixOrDefault returns the configured key prefix.
func (c Config) CachePrefixOrDefault() string {
	if c.CachePrefix == "" {
		return cache.DefaultPrefix
	}
	return c.CachePrefix
}
