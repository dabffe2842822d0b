package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

type backlogSweeper interface {
	SweepPending(ctx context.Context) assignment.SweepSummary
}

type AssignmentSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper backlogSweeper
}

// NewAssignmentSweepJob retries assignment of every case still waiting for
// an agent.
func NewAssignmentSweepJob(params AssignmentSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &assignmentSweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type assignmentSweepJob struct {
	logg    *logger.Logger
	sweeper backlogSweeper
}

func (j *assignmentSweepJob) Name() string { return "assignment-sweep" }

// Run fails only when the backlog cannot be read. Cases left unassigned are
// retried on the next cycle.
func (j *assignmentSweepJob) Run(ctx context.Context) error {
	summary := j.sweeper.SweepPending(ctx)
	if errors.Is(summary.Err, assignment.ErrBacklogUnavailable) {
		return summary.Err
	}
	if summary.Backlog == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"backlog":  summary.Backlog,
		"assigned": summary.Assigned,
		"failed":   summary.Failed,
		"skipped":  summary.Skipped,
	}), "assignment sweep summary")
	return nil
}
