package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	"github.com/casier-judiciaire/casier-backend/internal/cron"
	"github.com/casier-judiciaire/casier-backend/internal/notifications"
	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/db"
	"github.com/casier-judiciaire/casier-backend/pkg/instance"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/metrics"
	"github.com/casier-judiciaire/casier-backend/pkg/migrate"
	"github.com/casier-judiciaire/casier-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	// The worker holds no sockets; pushes reach API processes through the relay.
	var notifier assignment.Notifier
	if cfg.FeatureFlags.NotificationRelay {
		relay, err := notifications.NewRelay(notifications.RelayParams{
			Publisher: redisClient,
			Channel:   cfg.Realtime.RelayChannel,
			Logger:    logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create notification relay", err)
			os.Exit(1)
		}
		relayNotifier, err := notifications.NewNotifier(relay, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create notifier", err)
			os.Exit(1)
		}
		notifier = relayNotifier
	} else {
		logg.Warn(context.Background(), "notification relay disabled, scheduled sweeps will not notify anyone")
	}

	assignmentRepo := assignment.NewRepository(dbClient.DB())
	workload, err := assignment.NewWorkloadProvider(assignment.WorkloadProviderParams{
		Repo:   assignmentRepo,
		Config: cfg.Assignment,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create workload provider", err)
		os.Exit(1)
	}

	assignmentMetrics := metrics.NewAssignmentMetrics(prometheus.DefaultRegisterer)
	assignmentService, err := assignment.NewService(assignment.ServiceParams{
		Repo:     assignmentRepo,
		DB:       dbClient,
		Workload: workload,
		Selector: assignment.NewSelector(cfg.Assignment.TopK, nil),
		Metrics:  assignmentMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}

	sweeper, err := assignment.NewSweeper(assignment.SweeperParams{
		Backlog:  assignmentRepo,
		Assigner: assignmentService,
		Notifier: notifier,
		Logger:   logg,
		Metrics:  assignmentMetrics,
		Delay:    cfg.Assignment.SweepDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewAssignmentSweepJob(cron.AssignmentSweepJobParams{
		Logger:  logg,
		Sweeper: sweeper,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment sweep job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+cfg.App.Env), instance.GetID(), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
		// A sweep must finish before another worker can take the lock.
		JobTimeout: cfg.Cron.LockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
