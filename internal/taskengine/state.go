package taskengine

import (
	"fmt"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// ValidateTransition checks whether a task status transition is allowed.
// The machine is fixed: pending -> running -> {completed, failed,
// cancelled}, with cancellation also allowed straight from pending.
func ValidateTransition(from, to domain.TaskStatus) error {
	validTransitions := map[domain.TaskStatus][]domain.TaskStatus{
		domain.TaskStatusPending: {
			domain.TaskStatusRunning,
			domain.TaskStatusCancelled,
		},
		domain.TaskStatusRunning: {
			domain.TaskStatusCompleted,
			domain.TaskStatusFailed,
			domain.TaskStatusCancelled,
		},
		// Terminal states.
		domain.TaskStatusCompleted: {},
		domain.TaskStatusFailed:    {},
		domain.TaskStatusCancelled: {},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}

	for _, status := range allowed {
		if status == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// eventTypeForStatus maps a terminal-or-running status to the event type
// recorded in the task's log.
func eventTypeForStatus(status domain.TaskStatus) domain.TaskEventType {
	switch status {
	case domain.TaskStatusRunning:
		return domain.TaskEventStarted
	case domain.TaskStatusCompleted:
		return domain.TaskEventCompleted
	case domain.TaskStatusFailed:
		return domain.TaskEventFailed
	case domain.TaskStatusCancelled:
		return domain.TaskEventCancelled
	default:
		return domain.TaskEventCreated
	}
}
