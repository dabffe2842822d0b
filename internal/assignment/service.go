package assignment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type snapshotter interface {
	Snapshot(ctx context.Context) ([]WorkloadSnapshot, error)
}

// ServiceParams configure NewService.
type ServiceParams struct {
	Repo     Repository
	DB       txRunner
	Workload snapshotter
	Selector *Selector
	Metrics  *metrics.AssignmentMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service routes cases to agents. It never notifies anyone; callers do.
type Service struct {
	repo     Repository
	db       txRunner
	workload snapshotter
	selector *Selector
	metrics  *metrics.AssignmentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// Result describes a committed assignment.
type Result struct {
	CaseID          uuid.UUID  `json:"case_id"`
	AgentID         uuid.UUID  `json:"agent_id"`
	AgentName       string     `json:"agent_name,omitempty"`
	RequesterID     *uuid.UUID `json:"requester_id,omitempty"`
	PreviousAgentID *uuid.UUID `json:"previous_agent_id,omitempty"`
	Score           float64    `json:"score"`
	AssignedAt      time.Time  `json:"assigned_at"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("assignment repository required")
	}
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Workload == nil {
		return nil, errors.New("workload provider required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	selector := params.Selector
	if selector == nil {
		selector = NewSelector(DefaultTopK, nil)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		db:       params.DB,
		workload: params.Workload,
		selector: selector,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

var errClaimLost = errors.New("claim lost")

// Assign routes an unassigned case to one of the best available agents.
//
// It fails with ErrCaseNotFound, ErrAlreadyAssigned or ErrCapacityExhausted
// (wrapping ErrNoAgentAvailable). Of two concurrent calls on the same case at
// most one succeeds.
func (s *Service) Assign(ctx context.Context, caseID uuid.UUID) (Result, error) {
	return s.assign(ctx, caseID, nil, nil)
}

func (s *Service) assign(ctx context.Context, caseID uuid.UUID, actorID, previousAgentID *uuid.UUID) (Result, error) {
	ctx = s.logg.WithCaseID(ctx, caseID.String())

	c, err := s.repo.FindCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.IncAttempt(metrics.OutcomeNotFound)
			return Result{}, caseNotFound()
		}
		s.metrics.IncAttempt(metrics.OutcomeError)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load case")
	}
	if c.AgentID != nil {
		s.metrics.IncAttempt(metrics.OutcomeAlreadyAssigned)
		return Result{}, alreadyAssigned()
	}

	snapshots, err := s.workload.Snapshot(ctx)
	if err != nil {
		s.metrics.IncAttempt(metrics.OutcomeError)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build agent workload")
	}
	chosen, err := s.selector.Select(snapshots)
	if err != nil {
		s.metrics.IncAttempt(metrics.OutcomeCapacityExhausted)
		return Result{}, capacityExhausted(err, len(snapshots))
	}

	at := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimCase(ctx, caseID, chosen.AgentID, at)
		if err != nil {
			return err
		}
		if !claimed {
			return errClaimLost
		}
		return repo.CreateAssignment(ctx, &models.CaseAssignment{
			CaseID:           caseID,
			AgentUserID:      chosen.AgentID,
			AssignedByUserID: actorID,
			AssignedAt:       at,
			Active:           true,
			Score:            chosen.Score,
		})
	})
	if errors.Is(err, errClaimLost) || errors.Is(err, ErrAlreadyAssigned) {
		return Result{}, s.explainLostClaim(ctx, caseID)
	}
	if err != nil {
		s.metrics.IncAttempt(metrics.OutcomeError)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist assignment")
	}

	s.metrics.IncAttempt(metrics.OutcomeAssigned)
	s.metrics.ObserveScore(chosen.Score)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"agent_id":   chosen.AgentID.String(),
		"score":      chosen.Score,
		"candidates": len(snapshots),
	}), "case assigned")

	return Result{
		CaseID:          caseID,
		AgentID:         chosen.AgentID,
		AgentName:       chosen.FullName,
		RequesterID:     c.RequesterID,
		PreviousAgentID: previousAgentID,
		Score:           chosen.Score,
		AssignedAt:      at,
	}, nil
}

// explainLostClaim re-reads a case whose conditional update matched no row.
func (s *Service) explainLostClaim(ctx context.Context, caseID uuid.UUID) error {
	_, err := s.repo.FindCase(ctx, caseID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.metrics.IncAttempt(metrics.OutcomeNotFound)
		return caseNotFound()
	case err != nil:
		s.metrics.IncAttempt(metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload case")
	}
	s.metrics.IncAttempt(metrics.OutcomeAlreadyAssigned)
	return alreadyAssigned()
}

// BatchItem is the outcome for one case of AssignBatch.
type BatchItem struct {
	CaseID  uuid.UUID  `json:"case_id"`
	AgentID *uuid.UUID `json:"agent_id,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// BatchResult aggregates AssignBatch outcomes in input order.
type BatchResult struct {
	Items    []BatchItem `json:"items"`
	Assigned int         `json:"assigned"`
	Failed   int         `json:"failed"`
	// Results holds the committed assignments so callers can notify.
	Results []Result `json:"-"`
}

// AssignBatch assigns each case independently. One failure never stops the
// rest.
func (s *Service) AssignBatch(ctx context.Context, caseIDs []uuid.UUID) BatchResult {
	out := BatchResult{Items: make([]BatchItem, 0, len(caseIDs))}
	for _, caseID := range caseIDs {
		item := BatchItem{CaseID: caseID}
		result, err := s.Assign(ctx, caseID)
		if err != nil {
			item.Error = publicReason(err)
			out.Failed++
		} else {
			agentID := result.AgentID
			item.AgentID = &agentID
			out.Results = append(out.Results, result)
			out.Assigned++
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// ReassignInput selects the case and, optionally, the agent to move it to.
// Without a target the case goes back through automatic selection.
type ReassignInput struct {
	CaseID        uuid.UUID
	TargetAgentID *uuid.UUID
	ActorID       *uuid.UUID
}

// Reassign moves an open case to another agent.
func (s *Service) Reassign(ctx context.Context, input ReassignInput) (Result, error) {
	ctx = s.logg.WithCaseID(ctx, input.CaseID.String())

	c, err := s.repo.FindCase(ctx, input.CaseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, caseNotFound()
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load case")
	}
	if c.Status.IsTerminal() {
		return Result{}, pkgerrors.New(pkgerrors.CodeStateConflict, "case is closed").
			WithDetails(map[string]any{"status": c.Status})
	}

	if input.TargetAgentID != nil {
		return s.moveTo(ctx, c, *input.TargetAgentID, input.ActorID)
	}

	previous := c.AgentID
	if previous != nil {
		at := s.now().UTC()
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			released, err := repo.ReleaseCase(ctx, c.ID, *previous, at)
			if err != nil {
				return err
			}
			if !released {
				return errClaimLost
			}
			return repo.CloseActiveAssignment(ctx, c.ID, at)
		})
		if errors.Is(err, errClaimLost) {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyAssigned, "case changed during reassignment")
		}
		if err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release case")
		}
		s.logg.Info(s.logg.WithField(ctx, "previous_agent_id", previous.String()), "case released for reassignment")
	}
	return s.assign(ctx, c.ID, input.ActorID, previous)
}

func (s *Service) moveTo(ctx context.Context, c *models.Case, targetID uuid.UUID, actorID *uuid.UUID) (Result, error) {
	agent, err := s.repo.FindActiveAgent(ctx, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrAgentNotFound, "agent not found or inactive")
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
	}
	if c.AgentID != nil && *c.AgentID == targetID {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyAssigned, "case already assigned to this agent")
	}

	at := s.now().UTC()
	previous := c.AgentID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var moved bool
		var err error
		if previous == nil {
			moved, err = repo.ClaimCase(ctx, c.ID, targetID, at)
		} else {
			moved, err = repo.SwapAgent(ctx, c.ID, *previous, targetID, at)
		}
		if err != nil {
			return err
		}
		if !moved {
			return errClaimLost
		}
		if err := repo.CloseActiveAssignment(ctx, c.ID, at); err != nil {
			return err
		}
		return repo.CreateAssignment(ctx, &models.CaseAssignment{
			CaseID:           c.ID,
			AgentUserID:      targetID,
			AssignedByUserID: actorID,
			AssignedAt:       at,
			Active:           true,
		})
	})
	if errors.Is(err, errClaimLost) || errors.Is(err, ErrAlreadyAssigned) {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyAssigned, "case changed during reassignment")
	}
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reassignment")
	}

	s.logg.Info(s.logg.WithAgentID(ctx, targetID.String()), "case reassigned manually")
	return Result{
		CaseID:          c.ID,
		AgentID:         targetID,
		AgentName:       agent.FullName,
		RequesterID:     c.RequesterID,
		PreviousAgentID: previous,
		AssignedAt:      at,
	}, nil
}

// Workload returns every active agent's snapshot with its score, best first.
func (s *Service) Workload(ctx context.Context) ([]Candidate, error) {
	snapshots, err := s.workload.Snapshot(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build agent workload")
	}
	out := make([]Candidate, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, Candidate{WorkloadSnapshot: snap, Score: Score(snap)})
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.FullName, b.FullName)
	})
	return out, nil
}

// AgentStats is the per-agent breakdown of Stats.
type AgentStats struct {
	AgentID  uuid.UUID                  `json:"agent_id"`
	FullName string                     `json:"full_name,omitempty"`
	Total    int64                      `json:"total"`
	Open     int64                      `json:"open"`
	ByStatus map[enums.CaseStatus]int64 `json:"by_status"`
}

// Stats summarises how cases are spread over agents and statuses.
type Stats struct {
	Total      int64                      `json:"total"`
	Unassigned int64                      `json:"unassigned"`
	ByStatus   map[enums.CaseStatus]int64 `json:"by_status"`
	Agents     []AgentStats               `json:"agents"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.repo.StatusCounts(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count cases")
	}
	agents, err := s.repo.ActiveAgents(ctx)
	if err != nil {
		return Stats{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agents")
	}
	return buildStats(rows, agents), nil
}

func buildStats(rows []StatusCount, agents []models.User) Stats {
	stats := Stats{ByStatus: map[enums.CaseStatus]int64{}}
	byAgent := make(map[uuid.UUID]*AgentStats, len(agents))
	order := make([]uuid.UUID, 0, len(agents))
	track := func(id uuid.UUID, name string) *AgentStats {
		if entry, ok := byAgent[id]; ok {
			return entry
		}
		entry := &AgentStats{AgentID: id, FullName: name, ByStatus: map[enums.CaseStatus]int64{}}
		byAgent[id] = entry
		order = append(order, id)
		return entry
	}
	for _, agent := range agents {
		track(agent.ID, agent.FullName)
	}

	for _, row := range rows {
		stats.Total += row.Total
		stats.ByStatus[row.Status] += row.Total
		if row.AgentID == nil {
			stats.Unassigned += row.Total
			continue
		}
		entry := track(*row.AgentID, "")
		entry.Total += row.Total
		entry.ByStatus[row.Status] += row.Total
		if row.Status.IsOpen() {
			entry.Open += row.Total
		}
	}

	stats.Agents = make([]AgentStats, 0, len(order))
	for _, id := range order {
		stats.Agents = append(stats.Agents, *byAgent[id])
	}
	return stats
}

func caseNotFound() error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrCaseNotFound, "case not found")
}

func alreadyAssigned() error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyAssigned, "case already assigned")
}

func capacityExhausted(cause error, agents int) error {
	return pkgerrors.Wrap(pkgerrors.CodeCapacity, fmt.Errorf("%w: %w", ErrCapacityExhausted, cause), "no agent can take the case").
		WithDetails(map[string]any{"eligible_agents": agents})
}

// publicReason maps a failure to a short, stable string for batch reports.
func publicReason(err error) string {
	switch {
	case errors.Is(err, ErrCaseNotFound):
		return "case_not_found"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrCapacityExhausted):
		return "capacity_exhausted"
	}
	return "internal_error"
}
