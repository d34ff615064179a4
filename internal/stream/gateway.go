package stream

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
)

// replayPageSize is the number of events fetched per replay page.
const replayPageSize = 200

// pollInterval is the database poll cadence when no tailer is available.
const pollInterval = 500 * time.Millisecond

// errStreamDone signals that a terminal event ended the subscription.
var errStreamDone = errors.New("stream done")

// Tailer delivers live events for a task after a given event id. The
// Redis stream writer is the production implementation.
type Tailer interface {
	Tail(ctx context.Context, taskID string, afterEventID int64, fn func(*domain.TaskEvent) error) error
}

// Gateway exposes a task's event log as an ordered, at-least-once feed:
// history replayed from the database, then live events tailed until a
// terminal event closes the subscription. Subscribers are independent;
// detaching never affects the task.
type Gateway struct {
	events database.TaskEventRepositoryInterface
	tailer Tailer
	logger logger.Logger
}

// NewGateway creates a stream gateway. tailer may be nil, in which case
// live events are polled from the database.
func NewGateway(events database.TaskEventRepositoryInterface, tailer Tailer, log logger.Logger) *Gateway {
	return &Gateway{events: events, tailer: tailer, logger: log}
}

// Subscribe replays all events for a task with id > afterID, then blocks
// delivering new events as they are appended. It returns nil once a
// terminal event has been delivered, or ctx.Err() when the subscriber
// disconnects first. fn is invoked sequentially, preserving insertion
// order; duplicate delivery across the replay/tail seam is suppressed
// by event id.
func (g *Gateway) Subscribe(ctx context.Context, taskID string, afterID int64, fn func(*domain.TaskEvent) error) error {
	lastID, terminal, err := g.replay(ctx, taskID, afterID, fn)
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}

	err = g.tail(ctx, taskID, lastID, fn)
	if errors.Is(err, errStreamDone) {
		return nil
	}
	return err
}

// replay pages through persisted events. Returns the last delivered
// event id and whether a terminal event was seen.
func (g *Gateway) replay(ctx context.Context, taskID string, afterID int64, fn func(*domain.TaskEvent) error) (int64, bool, error) {
	lastID := afterID

	for {
		events, err := g.events.ListByTask(ctx, taskID, lastID, replayPageSize)
		if err != nil {
			return lastID, false, err
		}

		for _, event := range events {
			if err := fn(event); err != nil {
				return lastID, false, err
			}
			lastID = event.ID

			if event.EventType.IsTerminal() {
				return lastID, true, nil
			}
		}

		if len(events) < replayPageSize {
			return lastID, false, nil
		}
	}
}

// tail delivers live events until a terminal event or disconnection.
func (g *Gateway) tail(ctx context.Context, taskID string, afterID int64, fn func(*domain.TaskEvent) error) error {
	deliver := func(event *domain.TaskEvent) error {
		if err := fn(event); err != nil {
			return err
		}
		if event.EventType.IsTerminal() {
			return errStreamDone
		}
		return nil
	}

	if g.tailer != nil {
		return g.tailer.Tail(ctx, taskID, afterID, deliver)
	}

	return g.pollTail(ctx, taskID, afterID, deliver)
}

// pollTail is the database-polling fallback used when no Redis tailer is
// configured.
func (g *Gateway) pollTail(ctx context.Context, taskID string, afterID int64, deliver func(*domain.TaskEvent) error) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			events, err := g.events.ListByTask(ctx, taskID, afterID, replayPageSize)
			if err != nil {
				g.logger.Warn("poll task events", logger.Error(err))
				continue
			}

			for _, event := range events {
				if err := deliver(event); err != nil {
					return err
				}
				afterID = event.ID
			}
		}
	}
}
