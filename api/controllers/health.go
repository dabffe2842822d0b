package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/casier-judiciaire/casier-backend/api/responses"
	"github.com/casier-judiciaire/casier-backend/pkg/config"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Casier-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings Postgres and Redis.
func HealthReady(cfg *config.Config, logg *logger.Logger, db Pinger, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Casier-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := []struct {
			name string
			dep  Pinger
		}{{"database", db}, {"redis", redis}}
		for _, check := range checks {
			if check.dep == nil {
				continue
			}
			name := check.name
			if err := check.dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
					WithDetails(map[string]any{"dependency": name}))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
