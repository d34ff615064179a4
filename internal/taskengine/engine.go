// Package taskengine runs registered background task handlers, tracking
// each task through a persisted state machine and an append-only event
// log that doubles as the live-streaming source.
package taskengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/sse"
)

// Handler executes one task type.
type Handler interface {
	// Validate checks params at create time. Malformed params are a
	// validation error and never become a task.
	Validate(params domain.JSONBMap) error
	// Run executes the task. The returned value becomes the task result.
	// Returning context.Canceled (or observing reporter.Cancelled and
	// returning it) marks the task cancelled; any other error fails it.
	Run(ctx context.Context, task *domain.Task, reporter *Reporter) (any, error)
}

// EventMirror receives every appended event for live tailing (e.g. a
// Redis stream per task). Postgres remains the source of truth; mirror
// failures are logged, never propagated.
type EventMirror interface {
	Mirror(ctx context.Context, event *domain.TaskEvent) error
}

// runningTask tracks an in-flight task's cancellation handles.
type runningTask struct {
	cancel    context.CancelFunc
	cancelled *atomic.Bool
}

// Engine dispatches tasks to registered handlers.
type Engine struct {
	tasks  database.TaskRepositoryInterface
	events database.TaskEventRepositoryInterface
	broker sse.Broker
	mirror EventMirror
	logger logger.Logger

	handlers map[string]Handler
	running  map[string]*runningTask
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// New creates a task engine. broker and mirror may be nil.
func New(
	tasks database.TaskRepositoryInterface,
	events database.TaskEventRepositoryInterface,
	broker sse.Broker,
	mirror EventMirror,
	log logger.Logger,
) *Engine {
	return &Engine{
		tasks:    tasks,
		events:   events,
		broker:   broker,
		mirror:   mirror,
		logger:   log,
		handlers: make(map[string]Handler),
		running:  make(map[string]*runningTask),
	}
}

// Register adds a handler for a task type. Last registration wins.
func (e *Engine) Register(taskType string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = handler
}

// Create validates and persists a new pending task. Unknown task types
// and malformed params are rejected here and never become a task.
func (e *Engine) Create(ctx context.Context, taskType, title string, params domain.JSONBMap) (*domain.Task, error) {
	e.mu.RLock()
	handler, ok := e.handlers[taskType]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}

	if err := handler.Validate(params); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}

	task := &domain.Task{
		ID:       uuid.New().String(),
		TaskType: taskType,
		Status:   domain.TaskStatusPending,
		Title:    title,
		Params:   params,
	}

	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	if err := e.appendEvent(ctx, task.ID, domain.TaskEventCreated, domain.JSONBMap{
		"task_type": taskType,
		"title":     title,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("task created",
		logger.String("task_id", task.ID),
		logger.String("task_type", taskType),
	)

	return task, nil
}

// Start transitions a pending task to running and invokes its handler on
// its own goroutine. The conditional status update is the claim: a task
// can only be started once.
func (e *Engine) Start(ctx context.Context, taskID string) error {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	if err := ValidateTransition(task.Status, domain.TaskStatusRunning); err != nil {
		return err
	}

	e.mu.RLock()
	handler, ok := e.handlers[task.TaskType]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, task.TaskType)
	}

	claimed, err := e.tasks.ClaimStatus(ctx, taskID, domain.TaskStatusPending, domain.TaskStatusRunning)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("start task %s: %w", taskID, ErrNotClaimed)
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusRunning
	task.StartedAt = &now

	if err := e.appendEvent(ctx, taskID, domain.TaskEventStarted, nil); err != nil {
		return err
	}
	e.publishBroker(ctx, sse.NewTaskStatusEvent(task.ID, task.TaskType, string(task.Status)))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := &runningTask{cancel: cancel, cancelled: &atomic.Bool{}}

	e.mu.Lock()
	e.running[taskID] = rt
	e.mu.Unlock()

	reporter := &Reporter{engine: e, task: task, cancelled: rt.cancelled}

	e.wg.Add(1)
	go e.run(runCtx, task, handler, reporter, rt)

	return nil
}

// run executes the handler and records the terminal outcome.
func (e *Engine) run(ctx context.Context, task *domain.Task, handler Handler, reporter *Reporter, rt *runningTask) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.running, task.ID)
		e.mu.Unlock()
	}()

	result, err := handler.Run(ctx, task, reporter)

	// Terminal writes use a fresh context: the run context may already be
	// cancelled, but the outcome still has to be persisted.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case rt.cancelled.Load() || errors.Is(err, context.Canceled):
		e.finish(finishCtx, task, reporter, domain.TaskStatusCancelled, nil, nil)
	case err != nil:
		msg := err.Error()
		e.finish(finishCtx, task, reporter, domain.TaskStatusFailed, nil, &msg)
	default:
		e.finish(finishCtx, task, reporter, domain.TaskStatusCompleted, result, nil)
	}
}

// finish records a terminal status: one terminal event, then the task
// row update, then the reporter is closed so no later event can follow.
func (e *Engine) finish(ctx context.Context, task *domain.Task, reporter *Reporter, status domain.TaskStatus, result any, errorMessage *string) {
	reporter.mu.Lock()
	defer reporter.mu.Unlock()

	now := time.Now().UTC()
	task.Status = status
	task.CompletedAt = &now
	task.ErrorMessage = errorMessage

	if result != nil {
		encoded, err := domain.EncodeResult(result)
		if err != nil {
			e.logger.Error("encode task result", logger.Error(err), logger.String("task_id", task.ID))
		} else {
			task.Result = encoded
		}
	}

	eventData := domain.JSONBMap{}
	if task.Result != nil {
		eventData["result"] = map[string]any(task.Result)
	}
	if errorMessage != nil {
		eventData["error_message"] = *errorMessage
	}

	if err := e.appendEvent(ctx, task.ID, eventTypeForStatus(status), eventData); err != nil {
		e.logger.Error("append terminal event", logger.Error(err), logger.String("task_id", task.ID))
	}
	reporter.terminal = true

	if err := e.tasks.Update(ctx, task); err != nil {
		e.logger.Error("update terminal task", logger.Error(err), logger.String("task_id", task.ID))
	}

	e.publishBroker(ctx, sse.NewTaskCompletedEvent(task.ID, task.TaskType, string(status), errorMessage))

	e.logger.Info("task finished",
		logger.String("task_id", task.ID),
		logger.String("status", string(status)),
	)
}

// Cancel requests cooperative termination. Cancelling a pending task is
// immediate; a running task finishes its in-flight sub-operation before
// observing cancellation at the next safe point. Cancelling a task that
// is already terminal is a no-op.
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status.IsTerminal() {
		return nil // idempotent
	}

	if task.Status == domain.TaskStatusPending {
		claimed, claimErr := e.tasks.ClaimStatus(ctx, taskID, domain.TaskStatusPending, domain.TaskStatusCancelled)
		if claimErr != nil {
			return claimErr
		}
		if !claimed {
			// Lost the race to Start; fall through to the running path.
			return e.cancelRunning(taskID)
		}

		if err := e.appendEvent(ctx, taskID, domain.TaskEventCancelled, nil); err != nil {
			return err
		}
		e.publishBroker(ctx, sse.NewTaskCompletedEvent(task.ID, task.TaskType, string(domain.TaskStatusCancelled), nil))
		return nil
	}

	return e.cancelRunning(taskID)
}

// cancelRunning flips the cancellation flag for an in-flight task. The
// terminal transition is recorded by the run goroutine.
func (e *Engine) cancelRunning(taskID string) error {
	e.mu.RLock()
	rt, ok := e.running[taskID]
	e.mu.RUnlock()

	if !ok {
		// Not tracked here (e.g. finished meanwhile); nothing to do.
		return nil
	}

	rt.cancelled.Store(true)
	rt.cancel()
	return nil
}

// Get returns a task by ID.
func (e *Engine) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return e.tasks.GetByID(ctx, taskID)
}

// List returns tasks with optional status/type filters plus a total count.
func (e *Engine) List(ctx context.Context, status, taskType string, limit, offset int) ([]*domain.Task, int, error) {
	tasks, err := e.tasks.List(ctx, status, taskType, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := e.tasks.Count(ctx, status, taskType)
	if err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

// Events returns a page of a task's event log.
func (e *Engine) Events(ctx context.Context, taskID string, afterID int64, limit int) ([]*domain.TaskEvent, error) {
	return e.events.ListByTask(ctx, taskID, afterID, limit)
}

// StatusCounts returns aggregate task counts per status.
func (e *Engine) StatusCounts(ctx context.Context) (*domain.TaskStatusCounts, error) {
	return e.tasks.CountsByStatus(ctx)
}

// Wait blocks until all running tasks have finished. Used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// appendEvent writes one event to the log (source of truth), then
// mirrors it for live tailing.
func (e *Engine) appendEvent(ctx context.Context, taskID string, eventType domain.TaskEventType, data domain.JSONBMap) error {
	event := &domain.TaskEvent{
		TaskID:    taskID,
		EventType: eventType,
		EventData: data,
	}

	if err := e.events.Append(ctx, event); err != nil {
		return err
	}

	if e.mirror != nil {
		if err := e.mirror.Mirror(ctx, event); err != nil {
			e.logger.Warn("mirror task event", logger.Error(err), logger.String("task_id", taskID))
		}
	}

	return nil
}

// publishBroker publishes to the global feed, ignoring buffer-full drops.
func (e *Engine) publishBroker(ctx context.Context, event sse.Event) {
	if e.broker == nil {
		return
	}
	if err := e.broker.Publish(ctx, event); err != nil {
		e.logger.Debug("broker publish dropped", logger.Error(err))
	}
}
