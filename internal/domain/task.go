// Package domain provides domain models used across the application.
package domain

import (
	"time"
)

// TaskStatus represents the lifecycle status of a background task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task types handled by the engine.
const (
	TaskTypeCrawlPending   = "crawl_pending"
	TaskTypeRetryFailed    = "retry_failed"
	TaskTypeReportGenerate = "report_generate"
)

// Task represents a unit of background work tracked through a fixed
// status state machine. Mutated only by the handler executing it and
// by the cancellation API.
type Task struct {
	ID              string     `db:"id"               json:"id"`
	TaskType        string     `db:"task_type"        json:"task_type"`
	Status          TaskStatus `db:"status"           json:"status"`
	Title           string     `db:"title"            json:"title"`
	Params          JSONBMap   `db:"params"           json:"params"`
	Result          JSONBMap   `db:"result"           json:"result,omitempty"`
	ProgressCurrent int        `db:"progress_current" json:"progress_current"`
	ProgressTotal   int        `db:"progress_total"   json:"progress_total"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	StartedAt       *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
}

// TaskEventType classifies entries in a task's event log.
type TaskEventType string

const (
	TaskEventCreated   TaskEventType = "created"
	TaskEventStarted   TaskEventType = "started"
	TaskEventProgress  TaskEventType = "progress"
	TaskEventCompleted TaskEventType = "completed"
	TaskEventFailed    TaskEventType = "failed"
	TaskEventCancelled TaskEventType = "cancelled"
	TaskEventInfo      TaskEventType = "info"
)

// IsTerminal reports whether t closes the event log for its task.
func (t TaskEventType) IsTerminal() bool {
	return t == TaskEventCompleted || t == TaskEventFailed || t == TaskEventCancelled
}

// TaskEvent is one append-only record in a task's event log. Ordering is
// by insertion (monotonic ID) and is the sole ordering contract consumers
// may rely on.
type TaskEvent struct {
	ID        int64         `db:"id"         json:"id"`
	TaskID    string        `db:"task_id"    json:"task_id"`
	EventType TaskEventType `db:"event_type" json:"event_type"`
	EventData JSONBMap      `db:"event_data" json:"event_data,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// TaskStatusCounts holds aggregate task counts keyed by status.
type TaskStatusCounts struct {
	Pending   int `db:"pending"   json:"pending"`
	Running   int `db:"running"   json:"running"`
	Completed int `db:"completed" json:"completed"`
	Failed    int `db:"failed"    json:"failed"`
	Cancelled int `db:"cancelled" json:"cancelled"`
}
