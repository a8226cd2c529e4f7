package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/groups/internal/app"
	"github.com/openctemio/groups/internal/config"
	httpserver "github.com/openctemio/groups/internal/infra/http"
	"github.com/openctemio/groups/internal/infra/jobs"
	"github.com/openctemio/groups/internal/infra/postgres"
	"github.com/openctemio/groups/internal/infra/redis"
	"github.com/openctemio/groups/internal/telemetry"
	"github.com/openctemio/groups/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(cfg.Log.LoggerConfig())
	log.SetDefault()
	log.Info("starting worker", "app", cfg.App.Name, "env", cfg.App.Env, "version", Version)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if cfg.Database.MigrateOnStart {
		if err := postgres.RunMigrations(db.DB, postgres.MigrateUp); err != nil {
			log.Error("failed to migrate database", "error", err)
			return 1
		}
		log.Info("database migrated")
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	stopPoolStats := redis.StartPoolStatsCollector(ctx, redisClient, 15*time.Second)
	defer stopPoolStats()

	// ==========================================================================
	// Services
	// ==========================================================================
	jobClient := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	defer closeWithLog(jobClient, "job client", log)

	// The worker takes pair locks on the same backend as every other writer.
	var locker app.Locker
	switch cfg.Membership.LockBackend {
	case config.LockBackendRedis:
		locker = redis.NewLocker(redisClient, redis.LockOptions{
			Prefix: cfg.App.Name + ":",
			TTL:    cfg.Membership.LockTTL,
			Wait:   cfg.Membership.LockWait,
		})
	default:
		locker = postgres.NewAdvisoryLocker(db, postgres.AdvisoryLockOptions{
			Prefix: cfg.App.Name + ":",
			Wait:   cfg.Membership.LockWait,
		}, log)
	}
	memberships := app.NewMembershipService(
		postgres.NewMembershipRepository(db),
		postgres.NewGroupRepository(db),
		log,
		app.WithLocker(locker),
		app.WithEventPublisher(jobClient),
	)

	// ==========================================================================
	// Worker, Scheduler & Health
	// ==========================================================================
	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Worker.Concurrency,
	}, log,
		jobs.WithNotifier(jobs.NewLogNotifier(log)),
		jobs.WithDraftPurger(memberships),
	)

	scheduler, err := jobs.NewScheduler(jobClient, cfg.Worker.CleanupSchedule, cfg.Worker.DraftInviteTTL, log)
	if err != nil {
		log.Error("failed to create scheduler", "error", err)
		return 1
	}

	health := httpserver.NewHealthHandler(
		httpserver.WithCheck("database", db),
		httpserver.WithCheck("redis", redisClient),
	)
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           httpserver.NewRouter(log, health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		log.Info("health server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
		return 1
	}
	log.Info("worker stopped")
	return 0
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
