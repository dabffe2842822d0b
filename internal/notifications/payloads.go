package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/pkg/enums"
)

// Payload is the JSON frame pushed to clients.
type Payload struct {
	Type       enums.NotificationType `json:"type"`
	CaseID     *uuid.UUID             `json:"case_id,omitempty"`
	Status     enums.CaseStatus       `json:"status,omitempty"`
	AgentID    *uuid.UUID             `json:"agent_id,omitempty"`
	AgentName  string                 `json:"agent_name,omitempty"`
	Message    string                 `json:"message,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func caseAssignedPayload(caseID, agentID uuid.UUID, agentName string, at time.Time) Payload {
	return Payload{
		Type:       enums.NotificationTypeCaseAssigned,
		CaseID:     &caseID,
		Status:     enums.CaseStatusInProgress,
		AgentID:    &agentID,
		AgentName:  agentName,
		OccurredAt: at,
	}
}

func caseReassignedPayload(caseID, agentID uuid.UUID, agentName string, at time.Time) Payload {
	p := caseAssignedPayload(caseID, agentID, agentName, at)
	p.Type = enums.NotificationTypeCaseReassigned
	return p
}

func caseUnassignedPayload(caseID uuid.UUID, at time.Time) Payload {
	return Payload{
		Type:       enums.NotificationTypeCaseUnassigned,
		CaseID:     &caseID,
		OccurredAt: at,
	}
}

func statusChangedPayload(caseID uuid.UUID, status enums.CaseStatus, message string, at time.Time) Payload {
	return Payload{
		Type:       enums.NotificationTypeCaseStatusChanged,
		CaseID:     &caseID,
		Status:     status,
		Message:    message,
		OccurredAt: at,
	}
}

func announcementPayload(message string, at time.Time) Payload {
	return Payload{
		Type:       enums.NotificationTypeSystemAnnouncement,
		Message:    message,
		OccurredAt: at,
	}
}
