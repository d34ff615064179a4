package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var subscriberIDCounter atomic.Int64

// subscriber is one connected consumer of the broker.
type subscriber struct {
	id      string
	events  chan Event
	filter  EventFilter
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	closeMu sync.Mutex
}

func newSubscriber(ctx context.Context, bufferSize int, filter EventFilter) *subscriber {
	subCtx, cancel := context.WithCancel(ctx)

	return &subscriber{
		id:     fmt.Sprintf("sub-%d-%d", time.Now().UnixNano(), subscriberIDCounter.Add(1)),
		events: make(chan Event, bufferSize),
		filter: filter,
		ctx:    subCtx,
		cancel: cancel,
	}
}

// close terminates the subscription. Safe to call more than once.
func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed.Load() {
		return
	}

	s.closed.Store(true)
	s.cancel()
	close(s.events)
}

// send attempts to deliver an event without blocking.
// Returns false when the subscriber's buffer is full.
func (s *subscriber) send(event Event) bool {
	if s.closed.Load() {
		return false
	}

	if s.filter != nil && !s.filter(event) {
		return true // filtered out, subscriber is fine
	}

	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}
