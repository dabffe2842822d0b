package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/metrics"
)

// Notifier tells the people involved that a case was routed.
type Notifier interface {
	CaseAssigned(ctx context.Context, result Result)
}

type backlogReader interface {
	UnassignedCaseIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type assigner interface {
	Assign(ctx context.Context, caseID uuid.UUID) (Result, error)
}

// SweeperParams configure NewSweeper.
type SweeperParams struct {
	Backlog  backlogReader
	Assigner assigner
	Notifier Notifier
	Logger   *logger.Logger
	Metrics  *metrics.AssignmentMetrics
	// Delay is slept between two cases.
	Delay time.Duration
	// Limit caps the cases handled per sweep; zero means the whole backlog.
	Limit int
}

// Sweeper retries assignment for every case still waiting for an agent.
type Sweeper struct {
	backlog  backlogReader
	assigner assigner
	notifier Notifier
	logg     *logger.Logger
	metrics  *metrics.AssignmentMetrics
	delay    time.Duration
	limit    int
	sleep    func(ctx context.Context, d time.Duration) error
}

// SweepSummary reports one sweep. Err aggregates the per-case failures.
type SweepSummary struct {
	Backlog  int                  `json:"backlog"`
	Assigned int                  `json:"assigned"`
	Failed   int                  `json:"failed"`
	Skipped  int                  `json:"skipped"`
	Results  []Result             `json:"results"`
	Failures map[uuid.UUID]string `json:"failures,omitempty"`
	Err      error                `json:"-"`
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Backlog == nil {
		return nil, errors.New("backlog reader required")
	}
	if params.Assigner == nil {
		return nil, errors.New("assigner required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	delay := params.Delay
	if delay < 0 {
		delay = 0
	}
	return &Sweeper{
		backlog:  params.Backlog,
		assigner: params.Assigner,
		notifier: params.Notifier,
		logg:     params.Logger,
		metrics:  params.Metrics,
		delay:    delay,
		limit:    params.Limit,
		sleep:    sleepContext,
	}, nil
}

// SweepPending assigns the backlog oldest first. It never fails: per-case
// errors are logged, counted and collected in the summary, and a canceled
// context stops the sweep early with the remaining cases marked skipped.
func (s *Sweeper) SweepPending(ctx context.Context) SweepSummary {
	summary := SweepSummary{Failures: map[uuid.UUID]string{}}

	ids, err := s.backlog.UnassignedCaseIDs(ctx, s.limit)
	if err != nil {
		s.logg.Error(ctx, "failed to read assignment backlog", err)
		summary.Err = fmt.Errorf("%w: %w", ErrBacklogUnavailable, err)
		return summary
	}
	summary.Backlog = len(ids)
	if len(ids) == 0 {
		return summary
	}

	ctx = s.logg.WithField(ctx, "backlog", len(ids))
	s.logg.Info(ctx, "assignment sweep starting")

	for i, caseID := range ids {
		if i > 0 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				summary.Skipped = len(ids) - i
				summary.Err = multierr.Append(summary.Err, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			summary.Skipped = len(ids) - i
			summary.Err = multierr.Append(summary.Err, err)
			break
		}

		result, err := s.assigner.Assign(ctx, caseID)
		if err != nil {
			summary.Failed++
			summary.Failures[caseID] = publicReason(err)
			summary.Err = multierr.Append(summary.Err, fmt.Errorf("case %s: %w", caseID, err))
			s.logFailure(ctx, caseID, err)
			continue
		}

		summary.Assigned++
		summary.Results = append(summary.Results, result)
		if s.notifier != nil {
			s.notifier.CaseAssigned(ctx, result)
		}
	}

	s.metrics.ObserveSweep(summary.Backlog, summary.Assigned, summary.Failed)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"assigned": summary.Assigned,
		"failed":   summary.Failed,
		"skipped":  summary.Skipped,
	}), "assignment sweep complete")
	return summary
}

func (s *Sweeper) logFailure(ctx context.Context, caseID uuid.UUID, err error) {
	ctx = s.logg.WithCaseID(ctx, caseID.String())
	// Capacity and lost races are expected while the backlog drains.
	if errors.Is(err, ErrCapacityExhausted) || errors.Is(err, ErrAlreadyAssigned) {
		s.logg.Warn(s.logg.WithField(ctx, "reason", publicReason(err)), "case left in backlog")
		return
	}
	s.logg.Error(ctx, "case assignment failed during sweep", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
