package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
)

// fakeEventLog is an in-memory append-only event log.
type fakeEventLog struct {
	mu     sync.Mutex
	nextID int64
	events []domain.TaskEvent
}

func (l *fakeEventLog) append(taskID string, eventType domain.TaskEventType) *domain.TaskEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	event := domain.TaskEvent{
		ID:        l.nextID,
		TaskID:    taskID,
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
	}
	l.events = append(l.events, event)
	return &event
}

func (l *fakeEventLog) Append(_ context.Context, event *domain.TaskEvent) error {
	appended := l.append(event.TaskID, event.EventType)
	event.ID = appended.ID
	event.CreatedAt = appended.CreatedAt
	return nil
}

func (l *fakeEventLog) ListByTask(_ context.Context, taskID string, afterID int64, limit int) ([]*domain.TaskEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.TaskEvent
	for i := range l.events {
		event := l.events[i]
		if event.TaskID != taskID || event.ID <= afterID {
			continue
		}
		copied := event
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeTailer replays a fixed set of live events.
type fakeTailer struct {
	events []domain.TaskEvent
}

func (t *fakeTailer) Tail(ctx context.Context, taskID string, afterEventID int64, fn func(*domain.TaskEvent) error) error {
	for i := range t.events {
		event := t.events[i]
		if event.TaskID != taskID || event.ID <= afterEventID {
			continue
		}
		if err := fn(&event); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func collectIDs(events []*domain.TaskEvent) []int64 {
	ids := make([]int64, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids
}

func TestSubscribeReplaysTerminatedTask(t *testing.T) {
	log := &fakeEventLog{}
	log.append("task-1", domain.TaskEventCreated)
	log.append("task-1", domain.TaskEventStarted)
	log.append("task-1", domain.TaskEventProgress)
	log.append("task-1", domain.TaskEventCompleted)
	log.append("task-2", domain.TaskEventCreated) // other task, never delivered

	gateway := NewGateway(log, nil, logger.Nop())

	var got []*domain.TaskEvent
	err := gateway.Subscribe(context.Background(), "task-1", 0, func(event *domain.TaskEvent) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, collectIDs(got))
	assert.Equal(t, domain.TaskEventCompleted, got[len(got)-1].EventType)
}

func TestSubscribeResumesFromCursor(t *testing.T) {
	log := &fakeEventLog{}
	log.append("task-1", domain.TaskEventCreated)
	log.append("task-1", domain.TaskEventStarted)
	log.append("task-1", domain.TaskEventProgress)
	log.append("task-1", domain.TaskEventCompleted)

	gateway := NewGateway(log, nil, logger.Nop())

	var got []*domain.TaskEvent
	err := gateway.Subscribe(context.Background(), "task-1", 2, func(event *domain.TaskEvent) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)

	// Only events after the cursor are delivered.
	assert.Equal(t, []int64{3, 4}, collectIDs(got))
}

func TestSubscribeReplayThenLiveTail(t *testing.T) {
	log := &fakeEventLog{}
	log.append("task-1", domain.TaskEventCreated)
	log.append("task-1", domain.TaskEventStarted)
	replayed := log.append("task-1", domain.TaskEventProgress)

	// Live events: the tailer re-delivers the last replayed event (the
	// at-least-once seam) plus two new ones ending in a terminal event.
	tailer := &fakeTailer{events: []domain.TaskEvent{
		*replayed,
		{ID: 4, TaskID: "task-1", EventType: domain.TaskEventInfo},
		{ID: 5, TaskID: "task-1", EventType: domain.TaskEventCompleted},
	}}

	gateway := NewGateway(log, tailer, logger.Nop())

	var got []*domain.TaskEvent
	err := gateway.Subscribe(context.Background(), "task-1", 0, func(event *domain.TaskEvent) error {
		got = append(got, event)
		return nil
	})
	require.NoError(t, err)

	// No duplicate across the replay/tail seam, order preserved, stream
	// closed by the terminal event.
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, collectIDs(got))
}

func TestSubscribePollTailDeliversLiveEvents(t *testing.T) {
	log := &fakeEventLog{}
	log.append("task-1", domain.TaskEventCreated)
	log.append("task-1", domain.TaskEventStarted)

	gateway := NewGateway(log, nil, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	var mu sync.Mutex
	var got []*domain.TaskEvent

	go func() {
		done <- gateway.Subscribe(ctx, "task-1", 0, func(event *domain.TaskEvent) error {
			mu.Lock()
			got = append(got, event)
			mu.Unlock()
			return nil
		})
	}()

	// Append live events while the subscriber is attached.
	time.Sleep(50 * time.Millisecond)
	log.append("task-1", domain.TaskEventProgress)
	log.append("task-1", domain.TaskEventCompleted)

	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3, 4}, collectIDs(got))
}

func TestSubscribeDisconnectLeavesTaskAlone(t *testing.T) {
	log := &fakeEventLog{}
	log.append("task-1", domain.TaskEventCreated)
	log.append("task-1", domain.TaskEventStarted)

	gateway := NewGateway(log, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- gateway.Subscribe(ctx, "task-1", 0, func(*domain.TaskEvent) error {
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// The log is untouched by the subscriber going away.
	events, listErr := log.ListByTask(context.Background(), "task-1", 0, 0)
	require.NoError(t, listErr)
	assert.Len(t, events, 2)
}

func TestRedisStreamKey(t *testing.T) {
	writer := NewRedisStreamWriter(nil)
	assert.Equal(t, "newsbrief:task:abc:events", writer.StreamKey("abc"))
}
