package taskengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.TaskStatus
		to      domain.TaskStatus
		allowed bool
	}{
		{"pending to running", domain.TaskStatusPending, domain.TaskStatusRunning, true},
		{"pending to cancelled", domain.TaskStatusPending, domain.TaskStatusCancelled, true},
		{"pending to completed", domain.TaskStatusPending, domain.TaskStatusCompleted, false},
		{"pending to failed", domain.TaskStatusPending, domain.TaskStatusFailed, false},
		{"running to completed", domain.TaskStatusRunning, domain.TaskStatusCompleted, true},
		{"running to failed", domain.TaskStatusRunning, domain.TaskStatusFailed, true},
		{"running to cancelled", domain.TaskStatusRunning, domain.TaskStatusCancelled, true},
		{"running to pending", domain.TaskStatusRunning, domain.TaskStatusPending, false},
		{"completed is terminal", domain.TaskStatusCompleted, domain.TaskStatusRunning, false},
		{"failed is terminal", domain.TaskStatusFailed, domain.TaskStatusRunning, false},
		{"cancelled is terminal", domain.TaskStatusCancelled, domain.TaskStatusRunning, false},
		{"no self transition", domain.TaskStatusRunning, domain.TaskStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}
