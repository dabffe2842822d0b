package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casier-judiciaire/casier-backend/api/routes"
	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	"github.com/casier-judiciaire/casier-backend/internal/cases"
	"github.com/casier-judiciaire/casier-backend/internal/notifications"
	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/db"
	"github.com/casier-judiciaire/casier-backend/pkg/instance"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/metrics"
	"github.com/casier-judiciaire/casier-backend/pkg/migrate"
	"github.com/casier-judiciaire/casier-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socketRegistry := notifications.NewRegistry(logg, metrics.NewRealtimeMetrics(prometheus.DefaultRegisterer))

	var sender notifications.Sender = socketRegistry
	if cfg.FeatureFlags.NotificationRelay {
		relay, err := notifications.NewRelay(notifications.RelayParams{
			Publisher: redisClient,
			Channel:   cfg.Realtime.RelayChannel,
			Fallback:  socketRegistry,
			Logger:    logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create notification relay", err)
			os.Exit(1)
		}
		sender = relay
		go relay.Run(ctx, redisClient, socketRegistry)
	}

	notifier, err := notifications.NewNotifier(sender, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
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

	caseService, err := cases.NewService(cases.ServiceParams{
		Repo:           cases.NewRepository(dbClient.DB()),
		Assigner:       assignmentService,
		Notifier:       notifier,
		Logger:         logg,
		AssignOnCreate: cfg.FeatureFlags.AssignOnCreate,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cases service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			caseService,
			assignmentService,
			sweeper,
			notifier,
			socketRegistry,
			promhttp.Handler(),
		),
		// Open websockets end with the root context.
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}
}
