package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/casier-judiciaire/casier-backend/pkg/db"
	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
)

// activeAssignmentIndex allows one active history row per case.
const activeAssignmentIndex = "case_assignments_active_case_idx"

// Repository exposes the persistence needed to route cases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ActiveAgents(ctx context.Context) ([]models.User, error)
	FindActiveAgent(ctx context.Context, agentID uuid.UUID) (*models.User, error)
	OpenCaseCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error)
	ProcessingHours(ctx context.Context, agentIDs []uuid.UUID, since time.Time) (map[uuid.UUID]float64, error)
	FindCase(ctx context.Context, caseID uuid.UUID) (*models.Case, error)
	ClaimCase(ctx context.Context, caseID, agentID uuid.UUID, at time.Time) (bool, error)
	SwapAgent(ctx context.Context, caseID, fromAgentID, toAgentID uuid.UUID, at time.Time) (bool, error)
	ReleaseCase(ctx context.Context, caseID, fromAgentID uuid.UUID, at time.Time) (bool, error)
	CloseActiveAssignment(ctx context.Context, caseID uuid.UUID, at time.Time) error
	CreateAssignment(ctx context.Context, assignment *models.CaseAssignment) error
	UnassignedCaseIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	StatusCounts(ctx context.Context) ([]StatusCount, error)
}

// StatusCount is one (agent, status) bucket of the case table.
type StatusCount struct {
	AgentID *uuid.UUID       `json:"agent_id"`
	Status  enums.CaseStatus `json:"status"`
	Total   int64            `json:"total"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an assignment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ActiveAgents(ctx context.Context) ([]models.User, error) {
	var agents []models.User
	err := r.db.WithContext(ctx).
		Where("role = ? AND is_active = ?", enums.UserRoleAgent, true).
		Order("created_at ASC, id ASC").
		Find(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}

func (r *repository) FindActiveAgent(ctx context.Context, agentID uuid.UUID) (*models.User, error) {
	var agent models.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND role = ? AND is_active = ?", agentID, enums.UserRoleAgent, true).
		First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

type openCountRow struct {
	AgentID   uuid.UUID
	OpenCount int64
}

func (r *repository) OpenCaseCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return counts, nil
	}

	var rows []openCountRow
	err := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Select("agent_id, COUNT(*) AS open_count").
		Where("agent_id IN ? AND status IN ?", agentIDs, enums.OpenCaseStatuses).
		Group("agent_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.AgentID] = int(row.OpenCount)
	}
	return counts, nil
}

type processedRow struct {
	AgentID     uuid.UUID
	AssignedAt  time.Time
	ProcessedAt time.Time
}

// ProcessingHours averages assigned-to-processed durations of completed cases
// since the given time.
func (r *repository) ProcessingHours(ctx context.Context, agentIDs []uuid.UUID, since time.Time) (map[uuid.UUID]float64, error) {
	averages := make(map[uuid.UUID]float64, len(agentIDs))
	if len(agentIDs) == 0 {
		return averages, nil
	}

	var rows []processedRow
	err := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Select("agent_id, assigned_at, processed_at").
		Where("agent_id IN ? AND status = ?", agentIDs, enums.CaseStatusCompleted).
		Where("assigned_at IS NOT NULL AND processed_at IS NOT NULL AND processed_at >= ?", since).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[uuid.UUID]float64, len(agentIDs))
	counts := make(map[uuid.UUID]int, len(agentIDs))
	for _, row := range rows {
		hours := row.ProcessedAt.Sub(row.AssignedAt).Hours()
		if hours < 0 {
			continue
		}
		totals[row.AgentID] += hours
		counts[row.AgentID]++
	}
	for id, total := range totals {
		averages[id] = total / float64(counts[id])
	}
	return averages, nil
}

func (r *repository) FindCase(ctx context.Context, caseID uuid.UUID) (*models.Case, error) {
	var c models.Case
	if err := r.db.WithContext(ctx).Where("id = ?", caseID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ClaimCase binds an unassigned case to agentID. It reports false when the
// case is missing or already has an agent.
func (r *repository) ClaimCase(ctx context.Context, caseID, agentID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ? AND agent_id IS NULL", caseID).
		UpdateColumns(map[string]any{
			"agent_id":    agentID,
			"status":      enums.CaseStatusInProgress,
			"assigned_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SwapAgent moves a case from one agent to another, only if fromAgentID still
// holds it.
func (r *repository) SwapAgent(ctx context.Context, caseID, fromAgentID, toAgentID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ? AND agent_id = ? AND status NOT IN ?", caseID, fromAgentID, terminalStatuses).
		UpdateColumns(map[string]any{
			"agent_id":    toAgentID,
			"assigned_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseCase returns a case held by fromAgentID to the backlog.
func (r *repository) ReleaseCase(ctx context.Context, caseID, fromAgentID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ? AND agent_id = ? AND status NOT IN ?", caseID, fromAgentID, terminalStatuses).
		UpdateColumns(map[string]any{
			"agent_id":    nil,
			"status":      enums.CaseStatusSubmitted,
			"assigned_at": nil,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) CloseActiveAssignment(ctx context.Context, caseID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CaseAssignment{}).
		Where("case_id = ? AND active = ?", caseID, true).
		UpdateColumns(map[string]any{
			"active":        false,
			"unassigned_at": at,
		}).Error
}

func (r *repository) CreateAssignment(ctx context.Context, assignment *models.CaseAssignment) error {
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Create(assignment).Error
	if dbpkg.IsUniqueViolation(err, activeAssignmentIndex) {
		return fmt.Errorf("%w: %w", ErrAlreadyAssigned, err)
	}
	return err
}

// UnassignedCaseIDs lists the backlog oldest first. limit <= 0 returns all.
func (r *repository) UnassignedCaseIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("agent_id IS NULL AND status = ?", enums.CaseStatusSubmitted).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ids []uuid.UUID
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Select("agent_id, status, COUNT(*) AS total").
		Group("agent_id, status").
		Order("status ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

var terminalStatuses = []enums.CaseStatus{enums.CaseStatusCompleted, enums.CaseStatusRejected}
