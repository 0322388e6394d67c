// Command floorcache serves cached NFT floor-price data and runs one-off
// lookups from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/NPFdevops/nft-floor-compare/internal/config"
	"github.com/NPFdevops/nft-floor-compare/internal/server"
	"github.com/NPFdevops/nft-floor-compare/pkg/cache"
	"github.com/NPFdevops/nft-floor-compare/pkg/client"
	"github.com/NPFdevops/nft-floor-compare/pkg/logging"
	"github.com/NPFdevops/nft-floor-compare/pkg/nftapi"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "floorcache",
		Short:        "Cached, rate-limited access to NFT floor-price data",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newFetchCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newFetchCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "fetch <history|floor|details|search|compare> <args...>",
		Short: "Run one lookup and print the JSON result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging())

			deps, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			result, err := lookup(cmd.Context(), deps.api, args[0], args[1:], days)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "history range in days")
	return cmd
}

func lookup(ctx context.Context, api *nftapi.Client, kind string, args []string, days int) (any, error) {
	switch kind {
	case "history":
		return api.FloorPriceHistory(ctx, args[0], days)
	case "floor":
		return api.CurrentFloorPrice(ctx, args[0])
	case "details":
		return api.CollectionDetails(ctx, args[0])
	case "search":
		return api.SearchCollections(ctx, args[0])
	case "compare":
		if len(args) < 2 {
			return nil, errors.New("compare needs two collection slugs")
		}
		return api.Compare(ctx, args[0], args[1], days)
	default:
		return nil, fmt.Errorf("unknown lookup %q", kind)
	}
}

// deps are the long-lived objects built from the configuration.
type deps struct {
	floor  *client.Client
	api    *nftapi.Client
	closer []func() error
}

// Close releases the orchestrator, then the tier and Redis client it used.
func (d *deps) Close() {
	if d.floor != nil {
		d.floor.Close()
	}
	d.closeAll()
}

func build(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{}
	cc := cfg.Client()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		d.closer = append(d.closer, rdb.Close)
		cc.Redis = rdb
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	switch cfg.CacheBackend {
	case config.BackendRedis:
		cc.SlowTier = cache.NewRedisTier(cc.Redis, cfg.CachePrefixOrDefault())
	case config.BackendSQLite:
		tier, err := cache.OpenSQLiteTier(ctx, cfg.SQLitePath, cfg.CachePrefixOrDefault())
		if err != nil {
			d.closeAll()
			return nil, err
		}
		d.closer = append(d.closer, tier.Close)
		cc.SlowTier = tier
	}

	floor, err := client.New(cc)
	if err != nil {
		d.closeAll()
		return nil, err
	}
	d.floor = floor
	d.api = nftapi.New(floor, cfg.API())

	log.Info().
		Str("cache_backend", cfg.CacheBackend).
		Int("requests_per_window", cc.RateLimit.MaxRequestsPerWindow).
		Dur("window", cc.RateLimit.WindowSize).
		Msg("Floor-price client ready")
	return d, nil
}

func (d *deps) closeAll() {
	for i := len(d.closer) - 1; i >= 0; i-- {
		if err := d.closer[i](); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	d.floor.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(d.api),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Starting floorcache server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
