package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/support-hitl/cmd/mainconfig"
	"github.com/wolfman30/support-hitl/internal/api/router"
	appbootstrap "github.com/wolfman30/support-hitl/internal/app/bootstrap"
	"github.com/wolfman30/support-hitl/internal/approval"
	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/contextstore"
	"github.com/wolfman30/support-hitl/internal/events"
	"github.com/wolfman30/support-hitl/internal/handoff"
	"github.com/wolfman30/support-hitl/internal/hitl"
	"github.com/wolfman30/support-hitl/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/support-hitl/internal/http/middleware"
	"github.com/wolfman30/support-hitl/internal/learning"
	"github.com/wolfman30/support-hitl/internal/observability/metrics"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

type appMetrics struct {
	handoff  *metrics.HandoffMetrics
	approval *metrics.ApprovalMetrics
	learning *metrics.LearningMetrics
	flow     *metrics.FlowMetrics
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting support-hitl API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	pool, sqlDB, err := appbootstrap.BuildPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		defer sqlDB.Close()
	} else {
		logger.Warn("DATABASE_URL not set; approvals and events kept in memory")
	}

	metricsHandler, m := setupMetrics()

	// Conversation context, restored from the last snapshot when Redis is available.
	store := contextstore.New(contextstore.WithLogger(logger))
	redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
	var snapshots *contextstore.RedisSnapshots
	if redisClient != nil {
		defer redisClient.Close()
		snapshots = contextstore.NewRedisSnapshots(redisClient, cfg.ContextMaxAge)
		restored, err := store.Restore(ctx, snapshots, cfg.ContextMaxAge)
		if err != nil {
			logger.Warn("context restore failed", "error", err)
		} else {
			logger.Info("restored conversation contexts", "count", restored)
		}
	}

	catalog, err := handoff.LoadCatalog(cfg.HandoffCatalogPath)
	if err != nil {
		return err
	}
	engine := handoff.NewDefaultEngine()
	recorder := appbootstrap.BuildHandoffRecorder(cfg, awsCfg, m.handoff, logger)

	// Approvals and learning signals. With Postgres, transitions and signals
	// are also written to the outbox for downstream consumers.
	var (
		repo    approval.Repository = approval.NewMemoryRepository()
		outbox  *events.OutboxStore
		mirrors []learning.Store
	)
	machineOpts := []approval.MachineOption{approval.WithMetrics(m.approval), approval.WithLogger(logger)}
	if pool != nil {
		repo = approval.NewPostgresRepository(pool)
		outbox = events.NewOutboxStore(pool)
		publisher := events.NewPublisher(outbox)
		machineOpts = append(machineOpts, approval.WithEventSink(publisher))
		mirrors = append(mirrors, publisher)
	}
	machine := approval.NewMachine(repo, machineOpts...)
	signals := appbootstrap.BuildLearningStore(cfg, sqlDB, awsCfg, logger, mirrors...)
	capturer := learning.NewCapturer(signals, learning.WithMetrics(m.learning), learning.WithLogger(logger))

	generator, err := appbootstrap.BuildDraftGenerator(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	messenger, provider, err := appbootstrap.BuildMessenger(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("messenger configured", "provider", provider)
	sender, err := appbootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	serviceOpts := []hitl.Option{hitl.WithMetrics(m.flow), hitl.WithLogger(logger)}
	if notifier := appbootstrap.BuildReviewNotifier(cfg, sender, logger); notifier != nil {
		serviceOpts = append(serviceOpts, hitl.WithNotifier(notifier))
	}
	service := hitl.NewService(generator, messenger, machine, capturer, serviceOpts...)

	outboxHandler, closeOutbox, err := appbootstrap.BuildOutboxHandler(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeOutbox() }()

	limiter := httpmiddleware.NewRateLimiter(2, 10)
	r := router.New(&router.Config{
		Logger:             logger,
		Conversations:      handlers.NewConversationsHandler(store, engine, recorder, catalog, logger),
		Approvals:          handlers.NewApprovalsHandler(machine, logger),
		Flows:              handlers.NewFlowsHandler(service, store, logger),
		Health:             handlers.Health(healthChecks(pool, redisClient, sqlDB)),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ReviewerJWTSecret:  cfg.ReviewerJWTSecret,
		FlowLimiter:        limiter,
	})
	if cfg.ReviewerJWTSecret == "" {
		logger.Warn("REVIEWER_JWT_SECRET not set; reviewer routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	janitor := contextstore.NewJanitor(store, logger).
		WithInterval(cfg.ContextSweepInterval).
		WithMaxAge(cfg.ContextMaxAge)
	if snapshots != nil {
		janitor.WithEvictor(snapshots)
	}
	g.Go(func() error {
		janitor.Start(gctx)
		return nil
	})
	if outbox != nil {
		g.Go(func() error {
			events.NewDeliverer(outbox, outboxHandler, logger).
				WithInterval(cfg.OutboxPollInterval).
				Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		sweepLimiter(gctx, limiter, 10*time.Minute)
		return nil
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		if snapshots != nil {
			n, err := store.Flush(shutdownCtx, snapshots)
			if err != nil {
				logger.Warn("context flush failed", "error", err)
			} else {
				logger.Info("flushed conversation contexts", "count", n)
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// setupMetrics builds a private registry so tests can construct it repeatedly.
func setupMetrics() (http.Handler, appMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := appMetrics{
		handoff:  metrics.NewHandoffMetrics(reg),
		approval: metrics.NewApprovalMetrics(reg),
		learning: metrics.NewLearningMetrics(reg),
		flow:     metrics.NewFlowMetrics(reg),
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), m
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

type sqlPinger struct{ db *sql.DB }

func (p sqlPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client, sqlDB *sql.DB) map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{}
	if pool != nil {
		checks["postgres"] = pool
	}
	if sqlDB != nil {
		checks["postgres_sql"] = sqlPinger{db: sqlDB}
	}
	if redisClient != nil {
		checks["redis"] = redisPinger{client: redisClient}
	}
	return checks
}

func sweepLimiter(ctx context.Context, limiter *httpmiddleware.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(every)
		}
	}
}
