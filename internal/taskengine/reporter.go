package taskengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/sse"
)

// Reporter is the progress-reporting callback bound to one running task.
// Handlers may fan out concurrent work, but every Reporter call is
// serialized into the task's single event log, preserving the per-task
// ordering contract. It also carries the cooperative cancellation flag
// handlers poll at safe points.
type Reporter struct {
	engine *Engine
	task   *domain.Task

	mu        sync.Mutex
	terminal  bool
	cancelled *atomic.Bool
}

// TaskID returns the bound task's ID.
func (r *Reporter) TaskID() string { return r.task.ID }

// Cancelled reports whether cancellation has been requested. Handlers
// check this at safe points; cancellation is cooperative, never
// pre-emptive.
func (r *Reporter) Cancelled() bool {
	return r.cancelled.Load()
}

// Progress records a progress update. Counters are monotonically
// non-decreasing; a lower value than already recorded is clamped up.
// Exactly one progress event is appended per call, before the task row
// update, so the event log alone reconstructs task state.
func (r *Reporter) Progress(ctx context.Context, current, total int, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		return ErrTaskTerminal
	}

	if current < r.task.ProgressCurrent {
		current = r.task.ProgressCurrent
	}
	if total < r.task.ProgressTotal {
		total = r.task.ProgressTotal
	}
	r.task.ProgressCurrent = current
	r.task.ProgressTotal = total

	eventData := domain.JSONBMap{
		"progress_current": current,
		"progress_total":   total,
	}
	for k, v := range data {
		eventData[k] = v
	}

	if err := r.engine.appendEvent(ctx, r.task.ID, domain.TaskEventProgress, eventData); err != nil {
		return err
	}

	if err := r.engine.tasks.Update(ctx, r.task); err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}

	r.engine.publishBroker(ctx, sse.NewTaskProgressEvent(r.task.ID, current, total))
	return nil
}

// Info records an informational event that does not change progress
// counters (per-item crawl outcomes, section stream chunks, stage moves).
func (r *Reporter) Info(ctx context.Context, message string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		return ErrTaskTerminal
	}

	eventData := domain.JSONBMap{"message": message}
	for k, v := range data {
		eventData[k] = v
	}

	return r.engine.appendEvent(ctx, r.task.ID, domain.TaskEventInfo, eventData)
}
