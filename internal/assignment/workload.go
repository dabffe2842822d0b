package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/pkg/config"
	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
)

// UnlimitedCapacity marks agents that never fill up.
const UnlimitedCapacity = -1

// WorkloadSnapshot is the point-in-time load of one agent. It is never cached.
type WorkloadSnapshot struct {
	AgentID                    uuid.UUID `json:"agent_id"`
	FullName                   string    `json:"full_name"`
	CurrentLoad                int       `json:"current_load"`
	MaxCapacity                int       `json:"max_capacity"`
	AverageProcessingTimeHours float64   `json:"average_processing_time_hours"`
	IsAvailable                bool      `json:"is_available"`
}

// Unbounded reports whether the snapshot was taken without a load ceiling.
func (w WorkloadSnapshot) Unbounded() bool {
	return w.MaxCapacity < 0
}

type workloadReader interface {
	ActiveAgents(ctx context.Context) ([]models.User, error)
	OpenCaseCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error)
	ProcessingHours(ctx context.Context, agentIDs []uuid.UUID, since time.Time) (map[uuid.UUID]float64, error)
}

// WorkloadProviderParams configure NewWorkloadProvider.
type WorkloadProviderParams struct {
	Repo   workloadReader
	Config config.AssignmentConfig
	Now    func() time.Time
}

// WorkloadProvider reads the current load of every active agent.
type WorkloadProvider struct {
	repo         workloadReader
	maxCapacity  int
	defaultHours float64
	window       time.Duration
	now          func() time.Time
}

func NewWorkloadProvider(params WorkloadProviderParams) (*WorkloadProvider, error) {
	if params.Repo == nil {
		return nil, errors.New("workload repository required")
	}
	maxCapacity := params.Config.MaxCapacity
	if maxCapacity < 0 {
		maxCapacity = UnlimitedCapacity
	}
	hours := params.Config.AverageProcessingHours
	if hours <= 0 {
		hours = defaultProcessingHours
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &WorkloadProvider{
		repo:         params.Repo,
		maxCapacity:  maxCapacity,
		defaultHours: hours,
		window:       params.Config.ProcessingWindow,
		now:          now,
	}, nil
}

// Snapshot loads active agents and returns their workload. No agents yields
// an empty slice and a nil error.
func (p *WorkloadProvider) Snapshot(ctx context.Context) ([]WorkloadSnapshot, error) {
	agents, err := p.repo.ActiveAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active agents: %w", err)
	}
	return p.SnapshotFor(ctx, agents)
}

// SnapshotFor builds snapshots for the given eligible agents.
func (p *WorkloadProvider) SnapshotFor(ctx context.Context, agents []models.User) ([]WorkloadSnapshot, error) {
	if len(agents) == 0 {
		return []WorkloadSnapshot{}, nil
	}

	ids := make([]uuid.UUID, 0, len(agents))
	for _, agent := range agents {
		ids = append(ids, agent.ID)
	}

	loads, err := p.repo.OpenCaseCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count open cases: %w", err)
	}

	var hours map[uuid.UUID]float64
	if p.window > 0 {
		hours, err = p.repo.ProcessingHours(ctx, ids, p.now().Add(-p.window))
		if err != nil {
			return nil, fmt.Errorf("load processing history: %w", err)
		}
	}

	snapshots := make([]WorkloadSnapshot, 0, len(agents))
	for _, agent := range agents {
		avg, ok := hours[agent.ID]
		if !ok || avg <= 0 {
			avg = p.defaultHours
		}
		snapshots = append(snapshots, newSnapshot(agent, loads[agent.ID], p.maxCapacity, avg))
	}
	return snapshots, nil
}

func newSnapshot(agent models.User, load, maxCapacity int, avgHours float64) WorkloadSnapshot {
	return WorkloadSnapshot{
		AgentID:                    agent.ID,
		FullName:                   agent.FullName,
		CurrentLoad:                load,
		MaxCapacity:                maxCapacity,
		AverageProcessingTimeHours: avgHours,
		IsAvailable:                maxCapacity < 0 || load < maxCapacity,
	}
}
