package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/api/middleware"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
)

// actorID returns the authenticated caller as a UUID.
func actorID(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return id, nil
}
