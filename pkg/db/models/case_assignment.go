package models

import (
	"time"

	"github.com/google/uuid"
)

// CaseAssignment captures agent assignment history for a case. At most one
// row per case is active.
type CaseAssignment struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID           uuid.UUID  `gorm:"column:case_id;type:uuid;not null"`
	AgentUserID      uuid.UUID  `gorm:"column:agent_user_id;type:uuid;not null"`
	AssignedByUserID *uuid.UUID `gorm:"column:assigned_by_user_id;type:uuid"`
	AssignedAt       time.Time  `gorm:"column:assigned_at;not null"`
	UnassignedAt     *time.Time `gorm:"column:unassigned_at"`
	Active           bool       `gorm:"column:active;not null;default:true"`
	Score            float64    `gorm:"column:score;not null;default:0"`
}
