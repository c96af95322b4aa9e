// Package commands implements the orgappctl subcommands.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/db"
	"github.com/go4it/marketplace/internal/logging"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

type Globals struct {
	LogLevel string
	Version  string
}

func (g *Globals) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate("orgappctl"); err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg.ServiceName = "orgappctl"
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	return cfg, logging.NewLoggerTo(os.Stderr, cfg), nil
}

// connect opens the core database and builds services that run inline,
// without Temporal. Commands that need the provider ask for it. With
// REDIS_URL set, state changes are published to live subscribers of core-api.
func (g *Globals) connect(ctx context.Context, needProvider bool) (*core.Services, func(), error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	if needProvider && cfg.ProviderURL == "" {
		return nil, nil, fmt.Errorf("PROVIDER_URL is required for this command")
	}

	pool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL, db.PoolOptions{MaxConns: 4})
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){pool.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := core.Deps{
		Store:  store.NewPostgres(pool),
		Policy: cfg.Policy,
		Logger: logger,
	}
	if needProvider {
		deps.Provider = provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderRateLimit, logger)
	}
	if cfg.RedisURL != "" {
		rb, err := progress.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rb.Close() })
		deps.Hub = progress.NewHub(rb, logger)
	}
	return core.NewServices(deps), cleanup, nil
}
