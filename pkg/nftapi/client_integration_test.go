//go:build integration

package nftapi

import (
	"context"
	"testing"
	"time"

	"github.com/NPFdevops/nft-floor-compare/internal/testutil"
	"github.com/NPFdevops/nft-floor-compare/pkg/cache"
	"github.com/NPFdevops/nft-floor-compare/pkg/client"
	"github.com/NPFdevops/nft-floor-compare/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "start Redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "get Redis endpoint")

	redisClient := redis.NewClient(&redis.Options{Addr: endpoint})
	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}
	return redisClient, cleanup
}

// TestFullRequestFlow covers Gate -> upstream -> persistent tier -> restart
// -> conditional revalidation.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockFloorAPI()
	defer mock.Close()
	mock.SetHandler(testutil.CurrentPath("azuki"), testutil.NewConditionalHandler(`"floor-v1"`, `{"floor_price":12.5}`))

	ctx := context.Background()
	newAPI := func() (*Client, *client.Client) {
		cfg := client.DefaultConfig()
		cfg.SlowTier = cache.NewRedisTier(redisClient, cache.DefaultPrefix)
		cfg.Redis = redisClient
		cfg.RateLimit = ratelimit.Config{
			MaxRequestsPerWindow: 10,
			WindowSize:           time.Minute,
			RetryDelays:          []time.Duration{10 * time.Millisecond},
			MaxRetries:           1,
			Timeout:              5 * time.Second,
			QueueSize:            10,
		}
		cfg.Cache.Policy = cache.NewTTLPolicy(map[string]cache.Class{
			"30m": {TTL: 200 * time.Millisecond, StaleWindow: time.Hour},
		}, cache.Class{TTL: time.Hour, StaleWindow: 2 * time.Hour})

		floor, err := client.New(cfg)
		require.NoError(t, err)
		apiCfg := DefaultConfig()
		apiCfg.BaseURL = mock.URL()
		return New(floor, apiCfg), floor
	}

	// First process: miss, fetch, persist
	api, floor := newAPI()
	f, err := api.CurrentFloorPrice(ctx, "azuki")
	require.NoError(t, err)
	assert.Equal(t, 12.5, f.FloorPrice)
	floor.Close()

	time.Sleep(300 * time.Millisecond)

	// Second process: the persisted copy is stale, served, and revalidated with 304
	api, floor = newAPI()
	defer floor.Close()

	f, err = api.CurrentFloorPrice(ctx, "azuki")
	require.NoError(t, err, "stale copy should be served after restart")
	assert.Equal(t, 12.5, f.FloorPrice)

	require.Eventually(t, func() bool { return mock.ConditionalCount() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, mock.ConditionalCount())
	assert.Equal(t, 2, mock.RequestCount())
}
