package taskengine

import "errors"

var (
	// ErrUnknownTaskType is returned at create time for unregistered types.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidParams is returned when params fail handler validation.
	ErrInvalidParams = errors.New("invalid task params")

	// ErrInvalidTransition is returned for disallowed status transitions.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTaskTerminal is returned when an operation requires a live task.
	ErrTaskTerminal = errors.New("task already terminal")

	// ErrNotClaimed is returned when a concurrent caller won a transition.
	ErrNotClaimed = errors.New("task claimed by another caller")
)
