package sse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/newsbrief/internal/logger"
)

// broker implements the Broker interface.
type broker struct {
	logger      logger.Logger
	subscribers map[string]*subscriber
	mu          sync.RWMutex

	publish chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroker creates an in-process SSE broker.
func NewBroker(log logger.Logger) Broker {
	return &broker{
		logger:      log,
		subscribers: make(map[string]*subscriber),
		publish:     make(chan Event, DefaultPublishBufferSize),
	}
}

// Start begins distributing events.
func (b *broker) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.broadcastLoop()

	b.logger.Info("sse broker started")
	return nil
}

// Stop shuts the broker down, disconnecting all subscribers.
func (b *broker) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("sse broker stopped")
	case <-time.After(DefaultShutdownTimeout):
		b.logger.Warn("sse broker shutdown timeout exceeded")
	}

	return nil
}

// Publish sends an event to all connected subscribers.
func (b *broker) Publish(ctx context.Context, event Event) error {
	select {
	case b.publish <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish buffer full, dropped %s event", event.Type)
	}
}

// Subscribe registers a new subscriber.
func (b *broker) Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func()) {
	sub := newSubscriber(ctx, DefaultSubscriberBufferSize, filter)

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber attached",
		logger.String("subscriber_id", sub.id),
		logger.Int("total", b.SubscriberCount()),
	)

	// Detach when the subscriber's context ends.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-sub.ctx.Done()
		b.remove(sub.id)
	}()

	return sub.events, func() { b.remove(sub.id) }
}

// SubscriberCount returns the number of connected subscribers.
func (b *broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *broker) broadcastLoop() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-b.ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

func (b *broker) broadcast(event Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.send(event) {
			// Slow consumer: drop the connection rather than block the loop.
			b.logger.Warn("subscriber buffer full, disconnecting",
				logger.String("subscriber_id", s.id),
				logger.String("event_type", event.Type),
			)
			b.remove(s.id)
		}
	}
}

func (b *broker) remove(id string) {
	b.mu.Lock()
	sub, exists := b.subscribers[id]
	if exists {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if exists && sub != nil {
		sub.close()
	}
}

func (b *broker) disconnectAll() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
