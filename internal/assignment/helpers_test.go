package assignment

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/casier-judiciaire/casier-backend/pkg/config"
	pkgdb "github.com/casier-judiciaire/casier-backend/pkg/db"
	"github.com/casier-judiciaire/casier-backend/pkg/db/dbtest"
	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "assignment-test", Output: io.Discard})
}

type harness struct {
	db      *gorm.DB
	repo    Repository
	service *Service
	now     time.Time
}

func newHarness(t *testing.T, maxCapacity int) *harness {
	t.Helper()

	db := dbtest.Open(t)
	repo := NewRepository(db)
	now := dbtest.Base.Add(24 * time.Hour)
	clock := func() time.Time { return now }

	provider, err := NewWorkloadProvider(WorkloadProviderParams{
		Repo: repo,
		Config: config.AssignmentConfig{
			MaxCapacity:            maxCapacity,
			AverageProcessingHours: 24,
			ProcessingWindow:       720 * time.Hour,
		},
		Now: clock,
	})
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		Repo:     repo,
		DB:       pkgdb.Wrap(db),
		Workload: provider,
		Selector: NewSelector(DefaultTopK, rand.New(rand.NewPCG(1, 2))),
		Logger:   testLogger(),
		Now:      clock,
	})
	require.NoError(t, err)

	return &harness{db: db, repo: repo, service: service, now: now}
}

func (h *harness) loadCase(t *testing.T, id any) models.Case {
	t.Helper()
	var c models.Case
	require.NoError(t, h.db.Where("id = ?", id).First(&c).Error)
	return c
}

func (h *harness) assignments(t *testing.T, caseID any) []models.CaseAssignment {
	t.Helper()
	var rows []models.CaseAssignment
	require.NoError(t, h.db.Where("case_id = ?", caseID).Order("assigned_at ASC, active ASC").Find(&rows).Error)
	return rows
}

// pin binds a case to a specific agent through the manual path so history
// rows exist.
func (h *harness) pin(ctx context.Context, caseID, agentID uuid.UUID) (Result, error) {
	return h.service.Reassign(ctx, ReassignInput{CaseID: caseID, TargetAgentID: &agentID})
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []Result
}

func (n *recordingNotifier) CaseAssigned(_ context.Context, result Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}
