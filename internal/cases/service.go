package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/pagination"
)

// ErrQueued marks a Create failure that happened after the case was stored.
// The case stays submitted and the sweeper routes it later.
var ErrQueued = errors.New("case stored without an agent")

type assigner interface {
	Assign(ctx context.Context, caseID uuid.UUID) (assignment.Result, error)
}

type notifier interface {
	CaseAssigned(ctx context.Context, result assignment.Result)
	StatusChanged(ctx context.Context, caseID uuid.UUID, requesterID *uuid.UUID, status enums.CaseStatus, message string)
}

// ServiceParams configure NewService.
type ServiceParams struct {
	Repo     Repository
	Assigner assigner
	Notifier notifier
	Logger   *logger.Logger
	// AssignOnCreate routes new cases immediately; when false they wait for
	// the sweeper.
	AssignOnCreate bool
	Now            func() time.Time
}

// Service handles case intake and agent-side processing.
type Service struct {
	repo           Repository
	assigner       assigner
	notifier       notifier
	logg           *logger.Logger
	assignOnCreate bool
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cases repository required")
	}
	if params.Assigner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "assigner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:           params.Repo,
		assigner:       params.Assigner,
		notifier:       params.Notifier,
		logg:           params.Logger,
		assignOnCreate: params.AssignOnCreate,
		now:            now,
	}, nil
}

// CreateInput is a requester's new extract request.
type CreateInput struct {
	RequesterID         uuid.UUID
	RecordType          enums.RecordType
	DeliveryMode        enums.DeliveryMode
	NotificationChannel enums.ContactChannel
	Comment             *string
}

// CreateResult carries the stored case and, when routed, its assignment.
type CreateResult struct {
	Case       models.Case        `json:"case"`
	Assignment *assignment.Result `json:"assignment,omitempty"`
}

// Create stores a submitted case and routes it. When no agent has capacity
// the case stays submitted for the sweeper and a CodeCapacity error wrapping
// ErrQueued is returned so the requester is told to retry later.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	c := &models.Case{
		ID:                  uuid.New(),
		RequesterID:         &input.RequesterID,
		RecordType:          input.RecordType,
		Status:              enums.CaseStatusSubmitted,
		DeliveryMode:        input.DeliveryMode,
		NotificationChannel: input.NotificationChannel,
		Comment:             trimmed(input.Comment),
		CreatedAt:           at,
		UpdatedAt:           at,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create case")
	}
	ctx = s.logg.WithCaseID(ctx, c.ID.String())
	s.logg.Info(ctx, "case submitted")

	out := &CreateResult{Case: *c}
	if !s.assignOnCreate {
		return out, nil
	}

	result, err := s.assigner.Assign(ctx, c.ID)
	if err != nil {
		if errors.Is(err, assignment.ErrCapacityExhausted) {
			s.logg.Warn(ctx, "no agent available, case left for the sweeper")
			return nil, pkgerrors.Wrap(pkgerrors.CodeCapacity, fmt.Errorf("%w: %w", ErrQueued, err), "no agent is available, please retry later").
				WithDetails(map[string]any{"case_id": c.ID})
		}
		s.logg.Error(ctx, "assignment on create failed, case left for the sweeper", err)
		return out, nil
	}

	out.Case.AgentID = &result.AgentID
	out.Case.Status = enums.CaseStatusInProgress
	out.Case.AssignedAt = &result.AssignedAt
	out.Assignment = &result
	if s.notifier != nil {
		s.notifier.CaseAssigned(ctx, result)
	}
	return out, nil
}

func validateCreate(input CreateInput) error {
	details := map[string]any{}
	if input.RequesterID == uuid.Nil {
		details["requester_id"] = "required"
	}
	if !input.RecordType.IsValid() {
		details["record_type"] = "must be one of B1, B2, B3"
	}
	if !input.DeliveryMode.IsValid() {
		details["delivery_mode"] = "must be online or in_person"
	}
	if !input.NotificationChannel.IsValid() {
		details["notification_channel"] = "must be email or sms"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid case request").WithDetails(details)
	}
	return nil
}

// UpdateStatusInput is an agent's move of one of their cases.
type UpdateStatusInput struct {
	AgentID         uuid.UUID
	CaseID          uuid.UUID
	Status          enums.CaseStatus
	Comment         string
	RejectionReason *string
}

// UpdateStatus applies an agent transition and tells the requester.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Case, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status")
	}
	reason := trimmed(input.RejectionReason)
	if input.Status == enums.CaseStatusRejected && reason == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required").
			WithDetails(map[string]any{"rejection_reason": "required when rejecting"})
	}

	ctx = s.logg.WithCaseID(ctx, input.CaseID.String())
	c, err := s.repo.FindByID(ctx, input.CaseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "case not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load case")
	}
	if c.AgentID == nil || *c.AgentID != input.AgentID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "case is not assigned to you")
	}
	if !c.Status.CanTransitionTo(input.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "status transition not allowed").
			WithDetails(map[string]any{"from": c.Status, "to": input.Status})
	}

	at := s.now().UTC()
	update := statusUpdate{
		CaseID:          c.ID,
		AgentID:         input.AgentID,
		From:            c.Status,
		To:              input.Status,
		RejectionReason: reason,
		At:              at,
	}
	if input.Status.IsTerminal() {
		update.ProcessedAt = &at
	}
	updated, err := s.repo.UpdateStatus(ctx, update)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update case status")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "case changed concurrently")
	}

	previous := c.Status
	c.Status = input.Status
	c.UpdatedAt = at
	if update.ProcessedAt != nil {
		c.ProcessedAt = update.ProcessedAt
	}
	if reason != nil {
		c.RejectionReason = reason
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from": previous,
		"to":   input.Status,
	}), "case status updated")

	if s.notifier != nil {
		message := strings.TrimSpace(input.Comment)
		if message == "" && reason != nil {
			message = *reason
		}
		s.notifier.StatusChanged(ctx, c.ID, c.RequesterID, c.Status, message)
	}
	return c, nil
}

// ListParams page through an agent's queue.
type ListParams struct {
	AgentID uuid.UUID
	Status  *enums.CaseStatus
	Limit   int
	Cursor  string
}

// ListResult wraps returned cases and the cursor for the next page.
type ListResult struct {
	Items  []models.Case `json:"items"`
	Cursor string        `json:"cursor"`
}

// ListAssigned returns the cases held by an agent, newest first.
func (s *Service) ListAssigned(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	query := listAssignedParams{
		AgentID: params.AgentID,
		Status:  params.Status,
		Limit:   params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListAssigned(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assigned cases")
	}
	if rows == nil {
		rows = []models.Case{}
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
