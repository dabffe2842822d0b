package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/casier-judiciaire/casier-backend/api/middleware"
	"github.com/casier-judiciaire/casier-backend/api/responses"
	"github.com/casier-judiciaire/casier-backend/api/validators"
	"github.com/casier-judiciaire/casier-backend/internal/cases"
	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/pagination"
)

// CaseService is the case collaborator used by requesters and agents.
type CaseService interface {
	Create(ctx context.Context, input cases.CreateInput) (*cases.CreateResult, error)
	UpdateStatus(ctx context.Context, input cases.UpdateStatusInput) (*models.Case, error)
	ListAssigned(ctx context.Context, params cases.ListParams) (*cases.ListResult, error)
}

type createCaseRequest struct {
	RecordType          string  `json:"record_type" validate:"required,oneof=B1 B2 B3"`
	DeliveryMode        string  `json:"delivery_mode" validate:"required,oneof=online in_person"`
	NotificationChannel string  `json:"notification_channel" validate:"required,oneof=email sms"`
	Comment             *string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// CreateCase stores a requester's extract request and routes it to an agent.
// When no agent has room it answers 503 and the case waits for the next sweep.
// That answer is kept for the Idempotency-Key so a retry does not store the
// case twice.
func CreateCase(svc CaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cases service unavailable"))
			return
		}
		requesterID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createCaseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		recordType, err := enums.ParseRecordType(body.RecordType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid record type"))
			return
		}

		result, err := svc.Create(r.Context(), cases.CreateInput{
			RequesterID:         requesterID,
			RecordType:          recordType,
			DeliveryMode:        enums.DeliveryMode(body.DeliveryMode),
			NotificationChannel: enums.ContactChannel(body.NotificationChannel),
			Comment:             body.Comment,
		})
		if err != nil {
			if errors.Is(err, cases.ErrQueued) {
				middleware.MarkCommitted(r.Context())
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AgentAssignedCases returns the paginated queue of cases held by the agent.
func AgentAssignedCases(svc CaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cases service unavailable"))
			return
		}
		agentID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := cases.ListParams{
			AgentID: agentID,
			Limit:   limit,
			Cursor:  validators.QueryString(r, "cursor"),
		}
		if raw := validators.QueryString(r, "status"); raw != "" {
			status, err := enums.ParseCaseStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		list, err := svc.ListAssigned(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type updateCaseStatusRequest struct {
	Status          string  `json:"status" validate:"required"`
	Comment         string  `json:"comment,omitempty" validate:"max=2000"`
	RejectionReason *string `json:"rejection_reason,omitempty" validate:"omitempty,max=2000"`
}

// AgentUpdateCaseStatus moves one of the agent's cases and notifies the requester.
func AgentUpdateCaseStatus(svc CaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cases service unavailable"))
			return
		}
		agentID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateCaseStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), cases.UpdateStatusInput{
			AgentID:         agentID,
			CaseID:          caseID,
			Status:          enums.CaseStatus(strings.TrimSpace(body.Status)),
			Comment:         body.Comment,
			RejectionReason: body.RejectionReason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}
