package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// TaskEventRepository handles the append-only per-task event log.
type TaskEventRepository struct {
	db *sqlx.DB
}

// NewTaskEventRepository creates a new task event repository.
func NewTaskEventRepository(db *sqlx.DB) *TaskEventRepository {
	return &TaskEventRepository{db: db}
}

// Append inserts an event and fills its monotonic ID and CreatedAt.
// Events are never updated or deleted while their task is visible.
func (r *TaskEventRepository) Append(ctx context.Context, event *domain.TaskEvent) error {
	query := `
		INSERT INTO task_events (task_id, event_type, event_data)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		event.TaskID,
		event.EventType,
		event.EventData,
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		return fmt.Errorf("append task event: %w", err)
	}

	return nil
}

// ListByTask returns events for a task with id > afterID in insertion
// order. A limit of 0 means no limit.
func (r *TaskEventRepository) ListByTask(ctx context.Context, taskID string, afterID int64, limit int) ([]*domain.TaskEvent, error) {
	query := `
		SELECT id, task_id, event_type, event_data, created_at
		FROM task_events
		WHERE task_id = $1 AND id > $2
		ORDER BY id ASC
	`
	args := []any{taskID, afterID}

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var events []*domain.TaskEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}

	if events == nil {
		events = []*domain.TaskEvent{}
	}

	return events, nil
}
