package controllers

import (
	"context"
	"net/http"

	"github.com/casier-judiciaire/casier-backend/api/responses"
	"github.com/casier-judiciaire/casier-backend/api/validators"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

// Announcer broadcasts a system message to every connected user.
type Announcer interface {
	Announce(ctx context.Context, message string) error
}

type announcementRequest struct {
	Message string `json:"message" validate:"required,max=500"`
}

func AdminAnnouncement(announcer Announcer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if announcer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications unavailable"))
			return
		}
		var body announcementRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		message := validators.SanitizeString(body.Message, 500)
		if message == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "message is required"))
			return
		}
		if err := announcer.Announce(r.Context(), message); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "broadcast announcement"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "sent", "message": message})
	}
}
