package assignment

import "errors"

var (
	// ErrCaseNotFound is returned when the case id does not exist.
	ErrCaseNotFound = errors.New("case not found")
	// ErrAlreadyAssigned is returned when the case already has an agent.
	ErrAlreadyAssigned = errors.New("case already assigned")
	// ErrNoAgentAvailable is returned by the selector when no snapshot is eligible.
	ErrNoAgentAvailable = errors.New("no agent available")
	// ErrCapacityExhausted is what callers of Assign see when selection finds no agent.
	ErrCapacityExhausted = errors.New("agent capacity exhausted")
	// ErrAgentNotFound is returned when a reassignment targets an unknown or inactive agent.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrBacklogUnavailable is set on a sweep summary when the backlog could not be read.
	ErrBacklogUnavailable = errors.New("assignment backlog unavailable")
)
