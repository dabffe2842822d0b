package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/api/responses"
	"github.com/casier-judiciaire/casier-backend/api/validators"
	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

// AssignmentService is the assignment surface exposed to supervisors.
type AssignmentService interface {
	Assign(ctx context.Context, caseID uuid.UUID) (assignment.Result, error)
	AssignBatch(ctx context.Context, caseIDs []uuid.UUID) assignment.BatchResult
	Reassign(ctx context.Context, input assignment.ReassignInput) (assignment.Result, error)
	Workload(ctx context.Context) ([]assignment.Candidate, error)
	Stats(ctx context.Context) (assignment.Stats, error)
}

// BacklogSweeper runs an on-demand sweep.
type BacklogSweeper interface {
	SweepPending(ctx context.Context) assignment.SweepSummary
}

// AssignmentNotifier pushes routing events to connected users.
type AssignmentNotifier interface {
	CaseAssigned(ctx context.Context, result assignment.Result)
}

const maxBatchCases = 100

// AdminAssignmentWorkload lists available agents ranked by score.
func AdminAssignmentWorkload(svc AssignmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		ranked, err := svc.Workload(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if ranked == nil {
			ranked = []assignment.Candidate{}
		}
		responses.WriteSuccess(w, map[string]any{"agents": ranked})
	}
}

// AdminAssignmentStats reports case counts per agent and status.
func AdminAssignmentStats(svc AssignmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// AdminAssignmentSweep runs the backlog sweeper now. Per-case failures are
// reported in the summary; only an unreadable backlog fails the request.
func AdminAssignmentSweep(sweeper BacklogSweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweeper == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweeper unavailable"))
			return
		}
		summary := sweeper.SweepPending(r.Context())
		if errors.Is(summary.Err, assignment.ErrBacklogUnavailable) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, summary.Err, "read assignment backlog"))
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type assignBatchRequest struct {
	CaseIDs []uuid.UUID `json:"case_ids" validate:"required,min=1,max=100"`
}

// AdminAssignBatch assigns several cases independently.
func AdminAssignBatch(svc AssignmentService, notifier AssignmentNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		var body assignBatchRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(body.CaseIDs) > maxBatchCases {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "too many cases"))
			return
		}

		out := svc.AssignBatch(r.Context(), body.CaseIDs)
		if notifier != nil {
			for _, result := range out.Results {
				notifier.CaseAssigned(r.Context(), result)
			}
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminAssignCase routes a single unassigned case.
func AdminAssignCase(svc AssignmentService, notifier AssignmentNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Assign(r.Context(), caseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if notifier != nil {
			notifier.CaseAssigned(r.Context(), result)
		}
		responses.WriteSuccess(w, result)
	}
}

type reassignRequest struct {
	AgentID *uuid.UUID `json:"agent_id,omitempty"`
}

// AdminReassignCase moves an open case to a chosen agent, or back through
// automatic selection when no agent is given.
func AdminReassignCase(svc AssignmentService, notifier AssignmentNotifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		supervisorID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body reassignRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Reassign(r.Context(), assignment.ReassignInput{
			CaseID:        caseID,
			TargetAgentID: body.AgentID,
			ActorID:       &supervisorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if notifier != nil {
			notifier.CaseAssigned(r.Context(), result)
		}
		responses.WriteSuccess(w, result)
	}
}
