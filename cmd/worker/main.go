package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/go4it/marketplace/internal/activity"
	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/core"
	"github.com/go4it/marketplace/internal/db"
	"github.com/go4it/marketplace/internal/logging"
	"github.com/go4it/marketplace/internal/metrics"
	"github.com/go4it/marketplace/internal/progress"
	"github.com/go4it/marketplace/internal/provider"
	"github.com/go4it/marketplace/internal/store"
	"github.com/go4it/marketplace/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

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

	// Progress raised here (dispatch accepted, watchdog timeouts) only
	// reaches API subscribers through redis; the worker never subscribes.
	var hub *progress.Hub
	if cfg.RedisURL != "" {
		rb, err := progress.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rb.Close()
		hub = progress.NewHub(rb, logger)
	} else {
		logger.Warn().Msg("REDIS_URL not set, worker progress events are not streamed")
	}

	services := core.NewServices(core.Deps{
		Store:       store.NewPostgres(corePool),
		Temporal:    tc,
		Provider:    provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderRateLimit, logger),
		Hub:         hub,
		Policy:      cfg.Policy,
		CallbackURL: cfg.CallbackURL,
		Logger:      logger,
	})

	w := worker.New(tc, core.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	})

	w.RegisterActivity(activity.NewOrgApps(services.Orchestrator))
	w.RegisterActivity(activity.NewDrafts(services.Drafts))

	w.RegisterWorkflow(workflow.DeployOrgAppWorkflow)
	w.RegisterWorkflow(workflow.RemoveOrgAppWorkflow)
	w.RegisterWorkflow(workflow.ReconcileDeploymentsWorkflow)
	w.RegisterWorkflow(workflow.DeployDraftWorkflow)
	w.RegisterWorkflow(workflow.SweepDraftsWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, corePool.Ping)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", core.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Errors for already-existing schedules are ignored so that re-deploys
	// do not fail.
	registerCronSchedules(ctx, tc, cfg.Policy, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

type cronSchedule struct {
	id       string
	cron     string
	workflow interface{}
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, policy config.Policy, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "orgapp-reconcile-cron",
			cron:     policy.ReconcileCron,
			workflow: workflow.ReconcileDeploymentsWorkflow,
		},
		{
			id:       "draft-sweep-cron",
			cron:     policy.DraftSweepCron,
			workflow: workflow.SweepDraftsWorkflow,
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				TaskQueue: core.TaskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
