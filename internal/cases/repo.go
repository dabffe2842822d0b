package cases

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casier-judiciaire/casier-backend/pkg/db/models"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	"github.com/casier-judiciaire/casier-backend/pkg/pagination"
)

// Repository exposes case persistence for requesters and agents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, c *models.Case) error
	FindByID(ctx context.Context, caseID uuid.UUID) (*models.Case, error)
	ListAssigned(ctx context.Context, params listAssignedParams) ([]models.Case, *pagination.Cursor, error)
	UpdateStatus(ctx context.Context, update statusUpdate) (bool, error)
}

type listAssignedParams struct {
	AgentID uuid.UUID
	Status  *enums.CaseStatus
	Limit   int
	Cursor  *pagination.Cursor
}

type statusUpdate struct {
	CaseID          uuid.UUID
	AgentID         uuid.UUID
	From            enums.CaseStatus
	To              enums.CaseStatus
	RejectionReason *string
	ProcessedAt     *time.Time
	At              time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a cases repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, c *models.Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) FindByID(ctx context.Context, caseID uuid.UUID) (*models.Case, error) {
	var c models.Case
	if err := r.db.WithContext(ctx).Where("id = ?", caseID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) ListAssigned(ctx context.Context, params listAssignedParams) ([]models.Case, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Case{}).Where("agent_id = ?", params.AgentID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Case
	err := query.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	rows, last := pagination.Trim(rows, params.Limit)
	if last == nil {
		return rows, nil, nil
	}
	return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

// UpdateStatus moves a case only if the agent still holds it in the expected
// status.
func (r *repository) UpdateStatus(ctx context.Context, update statusUpdate) (bool, error) {
	columns := map[string]any{
		"status":     update.To,
		"updated_at": update.At,
	}
	if update.ProcessedAt != nil {
		columns["processed_at"] = *update.ProcessedAt
	}
	if update.RejectionReason != nil {
		columns["rejection_reason"] = *update.RejectionReason
	}
	result := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ? AND agent_id = ? AND status = ?", update.CaseID, update.AgentID, update.From).
		UpdateColumns(columns)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
