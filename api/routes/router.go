package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/casier-judiciaire/casier-backend/api/controllers"
	"github.com/casier-judiciaire/casier-backend/api/middleware"
	"github.com/casier-judiciaire/casier-backend/internal/notifications"
	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	pkgredis "github.com/casier-judiciaire/casier-backend/pkg/redis"
)

// redisStore is what the HTTP layer needs from Redis.
type redisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type realtimeNotifier interface {
	controllers.AssignmentNotifier
	controllers.Announcer
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient redisStore,
	caseService controllers.CaseService,
	assignmentService controllers.AssignmentService,
	sweeper controllers.BacklogSweeper,
	notifier realtimeNotifier,
	socketRegistry controllers.SocketRegistry,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Realtime.AllowedOrigins),
	)

	caseCreatePolicy := middleware.NewRateLimitPolicy(
		"case_create",
		cfg.RateLimit.CaseCreateWindow,
		cfg.RateLimit.CaseCreateIPLimit,
		0,
	)
	socketPolicy := middleware.NewRateLimitPolicy(
		"socket_connect",
		cfg.RateLimit.SocketWindow,
		cfg.RateLimit.SocketConnectLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	if socketRegistry != nil {
		r.With(middleware.RateLimit(socketPolicy, redisClient, logg)).Get("/ws", controllers.RealtimeSocket(
			cfg.JWT,
			socketRegistry,
			notifications.NewUpgrader(cfg.Realtime),
			notifications.SocketOptionsFromConfig(cfg.Realtime),
			logg,
		))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.With(
			middleware.RequireRole(enums.UserRoleRequester, logg),
			middleware.RateLimit(caseCreatePolicy, redisClient, logg),
		).Post("/demandes", controllers.CreateCase(caseService, logg))

		r.Route("/agent", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAgent, logg))
			r.Get("/demandes", controllers.AgentAssignedCases(caseService, logg))
			r.Patch("/demandes/{caseId}/status", controllers.AgentUpdateCaseStatus(caseService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAnyRole(logg, enums.UserRoleSupervisor, enums.UserRoleAdmin))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/workload", controllers.AdminAssignmentWorkload(assignmentService, logg))
			r.Get("/stats", controllers.AdminAssignmentStats(assignmentService, logg))
			r.Post("/sweep", controllers.AdminAssignmentSweep(sweeper, logg))
			r.Post("/batch", controllers.AdminAssignBatch(assignmentService, notifier, logg))
		})
		r.Post("/demandes/{caseId}/assign", controllers.AdminAssignCase(assignmentService, notifier, logg))
		r.Post("/demandes/{caseId}/reassign", controllers.AdminReassignCase(assignmentService, notifier, logg))
		r.Post("/announcements", controllers.AdminAnnouncement(notifier, logg))
	})

	return r
}
