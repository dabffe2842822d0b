package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/pkg/enums"
)

// Case is a request for a judicial record extract. AgentID is nil until the
// case is routed.
type Case struct {
	ID                  uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequesterID         *uuid.UUID           `gorm:"column:requester_id;type:uuid" json:"requester_id"`
	AgentID             *uuid.UUID           `gorm:"column:agent_id;type:uuid" json:"agent_id"`
	RecordType          enums.RecordType     `gorm:"column:record_type;type:record_type;not null" json:"record_type"`
	Status              enums.CaseStatus     `gorm:"column:status;type:case_status;not null;default:submitted" json:"status"`
	DeliveryMode        enums.DeliveryMode   `gorm:"column:delivery_mode;not null" json:"delivery_mode"`
	NotificationChannel enums.ContactChannel `gorm:"column:notification_channel;not null" json:"notification_channel"`
	Comment             *string              `gorm:"column:comment" json:"comment,omitempty"`
	RejectionReason     *string              `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	AssignedAt          *time.Time           `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	ProcessedAt         *time.Time           `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Case) TableName() string { return "cases" }
