package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsbrief/internal/logger"
)

func startTestBroker(t *testing.T) Broker {
	t.Helper()
	b := NewBroker(logger.Nop())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "event channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := startTestBroker(t)

	events, unsubscribe := b.Subscribe(context.Background(), nil)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), NewTaskStatusEvent("task-1", "crawl_pending", "running")))

	got := receive(t, events)
	assert.Equal(t, EventTypeTaskStatus, got.Type)

	data, ok := got.Data.(TaskStatusData)
	require.True(t, ok)
	assert.Equal(t, "task-1", data.TaskID)
	assert.Equal(t, "running", data.Status)
}

func TestBrokerTaskFilter(t *testing.T) {
	b := startTestBroker(t)

	events, unsubscribe := b.Subscribe(context.Background(), WithTaskFilter("task-2"))
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, NewTaskProgressEvent("task-1", 1, 10)))
	require.NoError(t, b.Publish(ctx, NewTaskProgressEvent("task-2", 5, 10)))

	got := receive(t, events)
	data, ok := got.Data.(TaskProgressData)
	require.True(t, ok)
	assert.Equal(t, "task-2", data.TaskID)
	assert.Equal(t, 5, data.Current)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := startTestBroker(t)

	events, unsubscribe := b.Subscribe(context.Background(), nil)
	assert.Equal(t, 1, b.SubscriberCount())

	unsubscribe()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerSubscriberContextDetaches(t *testing.T) {
	b := startTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := b.Subscribe(ctx, nil)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestBrokerStopDisconnectsAll(t *testing.T) {
	b := NewBroker(logger.Nop())
	require.NoError(t, b.Start(context.Background()))

	events, _ := b.Subscribe(context.Background(), nil)
	require.NoError(t, b.Stop())

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after broker stop")
	}
}
