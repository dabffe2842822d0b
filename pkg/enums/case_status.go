package enums

import "fmt"

// CaseStatus maps to the case_status enum in Postgres.
type CaseStatus string

const (
	CaseStatusSubmitted    CaseStatus = "submitted"
	CaseStatusInProgress   CaseStatus = "in_progress"
	CaseStatusAwaitingInfo CaseStatus = "awaiting_info"
	CaseStatusInValidation CaseStatus = "in_validation"
	CaseStatusCompleted    CaseStatus = "completed"
	CaseStatusRejected     CaseStatus = "rejected"
)

var validCaseStatuses = []CaseStatus{
	CaseStatusSubmitted,
	CaseStatusInProgress,
	CaseStatusAwaitingInfo,
	CaseStatusInValidation,
	CaseStatusCompleted,
	CaseStatusRejected,
}

// OpenCaseStatuses are the statuses that count toward an agent's load.
var OpenCaseStatuses = []CaseStatus{
	CaseStatusInProgress,
	CaseStatusAwaitingInfo,
}

// agentTransitions lists the statuses an agent may move an assigned case to.
var agentTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusInProgress:   {CaseStatusAwaitingInfo, CaseStatusInValidation, CaseStatusCompleted, CaseStatusRejected},
	CaseStatusAwaitingInfo: {CaseStatusInProgress, CaseStatusInValidation, CaseStatusCompleted, CaseStatusRejected},
	CaseStatusInValidation: {CaseStatusInProgress, CaseStatusCompleted, CaseStatusRejected},
}

// String implements fmt.Stringer.
func (s CaseStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CaseStatus.
func (s CaseStatus) IsValid() bool {
	for _, candidate := range validCaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the status counts toward agent load.
func (s CaseStatus) IsOpen() bool {
	for _, candidate := range OpenCaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further processing happens on the case.
func (s CaseStatus) IsTerminal() bool {
	return s == CaseStatusCompleted || s == CaseStatusRejected
}

// CanTransitionTo reports whether an agent may move a case from s to next.
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	for _, candidate := range agentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseCaseStatus converts raw strings into CaseStatus.
func ParseCaseStatus(value string) (CaseStatus, error) {
	for _, candidate := range validCaseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid case status %q", value)
}
