package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/go4it/marketplace/internal/api"
	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/db"
	"github.com/go4it/marketplace/internal/logging"
	"github.com/go4it/marketplace/internal/metrics"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "", "Migration files directory (default: embedded)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("core-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.CoreDatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL, db.PoolOptions{MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, corePool)

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	checks := []api.ReadyCheck{
		{Name: "core_db", Check: corePool.Ping},
		{Name: "temporal", Check: func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
			return err
		}},
	}

	var broker progress.Broker = progress.NewLocalBroker()
	if cfg.RedisURL != "" {
		rb, err := progress.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rb.Close()
		broker = rb
		checks = append(checks, api.ReadyCheck{Name: "redis", Check: rb.Ping})
		logger.Info().Msg("progress fan-out via redis")
	}
	hub := progress.NewHub(broker, logger)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start progress hub")
	}
	defer hub.Stop()

	services := core.NewServices(core.Deps{
		Store:       store.NewPostgres(corePool),
		Temporal:    tc,
		Provider:    provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderRateLimit, logger),
		Hub:         hub,
		Policy:      cfg.Policy,
		CallbackURL: cfg.CallbackURL,
		Logger:      logger,
	})

	srv := api.NewServer(logger, services, cfg, checks...)

	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: progress streams stay open for a whole deployment.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting core API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	// Closing the hub ends open streams so Shutdown does not wait on them.
	_ = hub.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}
