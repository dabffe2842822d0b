package middleware

import (
	"context"

	"github.com/casier-judiciaire/casier-backend/pkg/enums"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRole
	ctxCommitFlag
)

func valueFrom[T any](ctx context.Context, key contextKey) T {
	var zero T
	if ctx == nil {
		return zero
	}
	if v, ok := ctx.Value(key).(T); ok {
		return v
	}
	return zero
}

// UserIDFromContext returns the authenticated caller id, or "" before Auth.
func UserIDFromContext(ctx context.Context) string {
	return valueFrom[string](ctx, ctxUserID)
}

// RoleFromContext returns the caller role carried by the token.
func RoleFromContext(ctx context.Context) enums.UserRole {
	return valueFrom[enums.UserRole](ctx, ctxRole)
}

// WithUserID stores userID the way Auth does. Tests use it to skip token minting.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole stores role the way Auth does.
func WithRole(ctx context.Context, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}
