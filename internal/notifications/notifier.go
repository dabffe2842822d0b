package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/internal/assignment"
	"github.com/casier-judiciaire/casier-backend/pkg/enums"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
)

// Notifier turns case events into pushes for the agents and requesters
// involved. Failures are logged and never returned to the caller.
type Notifier struct {
	sender Sender
	logg   *logger.Logger
	now    func() time.Time
}

func NewNotifier(sender Sender, logg *logger.Logger) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("notification sender required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Notifier{sender: sender, logg: logg, now: time.Now}, nil
}

// CaseAssigned tells the chosen agent about the case and, on reassignment, the
// previous agent that it left. The requester gets a status change to
// in_progress.
func (n *Notifier) CaseAssigned(ctx context.Context, result assignment.Result) {
	at := result.AssignedAt
	if at.IsZero() {
		at = n.now().UTC()
	}
	ctx = n.logg.WithCaseID(ctx, result.CaseID.String())

	agentPayload := caseAssignedPayload(result.CaseID, result.AgentID, result.AgentName, at)
	reassigned := result.PreviousAgentID != nil && *result.PreviousAgentID != result.AgentID
	if reassigned {
		agentPayload = caseReassignedPayload(result.CaseID, result.AgentID, result.AgentName, at)
	}
	n.send(ctx, result.AgentID, agentPayload)

	if reassigned {
		n.send(ctx, *result.PreviousAgentID, caseUnassignedPayload(result.CaseID, at))
	}
	if result.RequesterID != nil {
		requesterPayload := statusChangedPayload(result.CaseID, enums.CaseStatusInProgress, "an agent is processing your request", at)
		requesterPayload.AgentName = result.AgentName
		n.send(ctx, *result.RequesterID, requesterPayload)
	}
}

// StatusChanged tells the requester that their case moved.
func (n *Notifier) StatusChanged(ctx context.Context, caseID uuid.UUID, requesterID *uuid.UUID, status enums.CaseStatus, message string) {
	if requesterID == nil {
		return
	}
	ctx = n.logg.WithCaseID(ctx, caseID.String())
	n.send(ctx, *requesterID, statusChangedPayload(caseID, status, message, n.now().UTC()))
}

// Announce pushes a system message to every connected user.
func (n *Notifier) Announce(ctx context.Context, message string) error {
	if err := n.sender.Broadcast(ctx, announcementPayload(message, n.now().UTC())); err != nil {
		return fmt.Errorf("broadcast announcement: %w", err)
	}
	n.logg.Info(ctx, "system announcement broadcast")
	return nil
}

func (n *Notifier) send(ctx context.Context, userID uuid.UUID, payload Payload) {
	if err := n.sender.SendToUser(ctx, userID, payload); err != nil {
		n.logg.Warn(n.logg.WithFields(ctx, map[string]any{
			"user_id": userID.String(),
			"type":    payload.Type,
			"error":   err.Error(),
		}), "notification not delivered")
	}
}
