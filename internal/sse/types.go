// Package sse provides Server-Sent Events plumbing: an in-process broker
// for live fan-out and helpers for writing SSE frames to HTTP responses.
package sse

import (
	"context"
	"time"
)

// Event represents a single Server-Sent Event.
// Wire format: event: <Type>\ndata: <JSON payload>\n\n
type Event struct {
	// Type is the event name (e.g. "task:status").
	Type string `json:"type"`
	// Data is the JSON payload.
	Data any `json:"data"`
	// ID is an optional event ID used for client-side resume.
	ID string `json:"id,omitempty"`
}

// Broker manages subscriptions and event distribution.
type Broker interface {
	// Publish sends an event to all connected subscribers. Returns an
	// error if the publish buffer is full.
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events and a cleanup function. The
	// channel is closed on client disconnect or broker shutdown.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func())
	// Start begins distributing events (non-blocking).
	Start(ctx context.Context) error
	// Stop shuts the broker down, disconnecting all subscribers.
	Stop() error
	// SubscriberCount returns the number of connected subscribers.
	SubscriberCount() int
}

// EventFilter decides whether an event is delivered to a subscriber.
// A nil filter delivers everything.
type EventFilter func(event Event) bool

// Broker defaults.
const (
	DefaultPublishBufferSize    = 256
	DefaultSubscriberBufferSize = 64
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultShutdownTimeout      = 5 * time.Second
)

// Event types published on the global feed.
const (
	EventTypeTaskStatus    = "task:status"
	EventTypeTaskProgress  = "task:progress"
	EventTypeTaskCompleted = "task:completed"
)

// TaskStatusData is the payload for task:status events.
type TaskStatusData struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TaskProgressData is the payload for task:progress events.
type TaskProgressData struct {
	TaskID    string `json:"task_id"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Timestamp string `json:"timestamp"`
}

// TaskCompletedData is the payload for task:completed events.
type TaskCompletedData struct {
	TaskID       string  `json:"task_id"`
	TaskType     string  `json:"task_type"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

// NewTaskStatusEvent creates a task:status event.
func NewTaskStatusEvent(taskID, taskType, status string) Event {
	return Event{
		Type: EventTypeTaskStatus,
		Data: TaskStatusData{
			TaskID:    taskID,
			TaskType:  taskType,
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// NewTaskProgressEvent creates a task:progress event.
func NewTaskProgressEvent(taskID string, current, total int) Event {
	return Event{
		Type: EventTypeTaskProgress,
		Data: TaskProgressData{
			TaskID:    taskID,
			Current:   current,
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// NewTaskCompletedEvent creates a task:completed event.
func NewTaskCompletedEvent(taskID, taskType, status string, errorMessage *string) Event {
	return Event{
		Type: EventTypeTaskCompleted,
		Data: TaskCompletedData{
			TaskID:       taskID,
			TaskType:     taskType,
			Status:       status,
			ErrorMessage: errorMessage,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// WithTaskFilter returns a filter delivering only events for one task.
// Event payloads carry the task id in their typed Data structs.
func WithTaskFilter(taskID string) EventFilter {
	return func(event Event) bool {
		switch data := event.Data.(type) {
		case TaskStatusData:
			return data.TaskID == taskID
		case TaskProgressData:
			return data.TaskID == taskID
		case TaskCompletedData:
			return data.TaskID == taskID
		default:
			return false
		}
	}
}
