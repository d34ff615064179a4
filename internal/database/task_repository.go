package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, task_type, status, title, params, result,
	progress_current, progress_total, error_message,
	created_at, started_at, completed_at`

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (id, task_type, status, title, params, progress_current, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		task.ID,
		task.TaskType,
		task.Status,
		task.Title,
		task.Params,
		task.ProgressCurrent,
		task.ProgressTotal,
	).Scan(&task.CreatedAt)

	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	err := r.db.GetContext(ctx, &task, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	return &task, nil
}

// List retrieves tasks with optional status and type filtering.
func (r *TaskRepository) List(ctx context.Context, status, taskType string, limit, offset int) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if taskType != "" {
		args = append(args, taskType)
		query += fmt.Sprintf(" AND task_type = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var tasks []*domain.Task
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}

	return tasks, nil
}

// Count returns the number of tasks matching the filters.
func (r *TaskRepository) Count(ctx context.Context, status, taskType string) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE 1=1`
	args := []any{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if taskType != "" {
		args = append(args, taskType)
		query += fmt.Sprintf(" AND task_type = $%d", len(args))
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}

	return count, nil
}

// CountsByStatus returns aggregate task counts per status.
func (r *TaskRepository) CountsByStatus(ctx context.Context) (*domain.TaskStatusCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending')   AS pending,
			COUNT(*) FILTER (WHERE status = 'running')   AS running,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed')    AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM tasks
	`

	var counts domain.TaskStatusCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}

	return &counts, nil
}

// Update writes the mutable fields of a task.
func (r *TaskRepository) Update(ctx context.Context, task *domain.Task) error {
	query := `
		UPDATE tasks
		SET status = $1, result = $2, progress_current = $3, progress_total = $4,
		    error_message = $5, started_at = $6, completed_at = $7
		WHERE id = $8
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		task.Status,
		task.Result,
		task.ProgressCurrent,
		task.ProgressTotal,
		task.ErrorMessage,
		task.StartedAt,
		task.CompletedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}

	return nil
}

// ClaimStatus transitions a task between statuses only if it is still in
// the expected status. The conditional update is the claim lock.
func (r *TaskRepository) ClaimStatus(ctx context.Context, id string, from, to domain.TaskStatus) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1,
		    started_at = CASE WHEN $1 = 'running' THEN now() ELSE started_at END
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("claim task status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
