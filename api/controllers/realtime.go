package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/casier-judiciaire/casier-backend/api/middleware"
	"github.com/casier-judiciaire/casier-backend/internal/notifications"
	pkgAuth "github.com/casier-judiciaire/casier-backend/pkg/auth"
	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

// SocketRegistry tracks which user owns which live connection.
type SocketRegistry interface {
	Register(userID uuid.UUID, ch notifications.Channel)
	Unregister(ch notifications.Channel) bool
}

// RealtimeSocket upgrades to a websocket and registers it for the token's
// user. Browsers cannot set headers on websocket requests, so the token is
// read from the query string first. A bad token gets close code 1008 after
// the upgrade so the client can tell it apart from a network failure.
func RealtimeSocket(
	cfg config.JWTConfig,
	registry SocketRegistry,
	upgrader *websocket.Upgrader,
	opts notifications.SocketOptions,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			token = middleware.BearerToken(r)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "realtime.upgrade_failed")
			}
			return
		}
		ch := notifications.NewSocketChannel(conn, opts)

		claims, err := pkgAuth.ParseAccessToken(cfg, token)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "realtime.auth_failed")
			}
			ch.Close(websocket.ClosePolicyViolation, "invalid token")
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"user_id":    claims.UserID.String(),
				"actor_role": string(claims.Role),
			})
			logg.Info(ctx, "realtime.connected")
		}

		registry.Register(claims.UserID, ch)
		defer func() {
			registry.Unregister(ch)
			if logg != nil {
				logg.Info(ctx, "realtime.disconnected")
			}
		}()
		ch.Serve(ctx)
	}
}
