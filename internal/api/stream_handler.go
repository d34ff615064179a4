package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/sse"
	"github.com/jonesrussell/newsbrief/internal/stream"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

// StreamHandler serves SSE streams: one per-task event-log stream with
// replay, and the global broker feed.
type StreamHandler struct {
	engine  *taskengine.Engine
	gateway *stream.Gateway
	broker  sse.Broker
	logger  logger.Logger
}

// NewStreamHandler creates a stream handler. broker may be nil, which
// disables the global feed.
func NewStreamHandler(engine *taskengine.Engine, gateway *stream.Gateway, broker sse.Broker, log logger.Logger) *StreamHandler {
	return &StreamHandler{engine: engine, gateway: gateway, broker: broker, logger: log}
}

// sseWriter serializes SSE frame writes so the heartbeat goroutine and
// the event delivery callback never interleave mid-frame.
type sseWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (s *sseWriter) writeEvent(event sse.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sse.WriteEvent(s.w, event)
}

func (s *sseWriter) heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sse.WriteHeartbeat(s.w)
}

// StreamTask handles GET /api/v1/tasks/:id/stream
//
// Replays the task's event log from the client's cursor (after_id query
// parameter or Last-Event-ID header), then tails live events until a
// terminal event closes the stream. Disconnecting only detaches the
// subscriber; the task keeps running.
func (h *StreamHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.engine.Get(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	afterID := streamCursor(c)

	sse.SetHeaders(c.Writer)
	c.Writer.Flush()

	w := &sseWriter{w: c.Writer}
	if err := w.writeEvent(sse.Event{
		Type: "connected",
		Data: map[string]any{
			"task_id":   task.ID,
			"task_type": task.TaskType,
			"status":    string(task.Status),
			"after_id":  afterID,
		},
	}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.heartbeatLoop(ctx, w)

	err = h.gateway.Subscribe(ctx, taskID, afterID, func(event *domain.TaskEvent) error {
		return w.writeEvent(sse.Event{
			ID:   strconv.FormatInt(event.ID, 10),
			Type: string(event.EventType),
			Data: event,
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("task stream ended with error",
			logger.Error(err),
			logger.String("task_id", taskID),
		)
		_ = w.writeEvent(sse.Event{Type: "error", Data: map[string]any{"error": err.Error()}})
	}
}

// StreamGlobal handles GET /api/v1/events/stream
//
// Streams the broker's global task feed, optionally filtered to one task
// with the task_id query parameter. No replay; this is the live firehose.
func (h *StreamHandler) StreamGlobal(c *gin.Context) {
	if h.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming not available"})
		return
	}

	var filter sse.EventFilter
	if taskID := c.Query("task_id"); taskID != "" {
		filter = sse.WithTaskFilter(taskID)
	}

	events, unsubscribe := h.broker.Subscribe(c.Request.Context(), filter)
	defer unsubscribe()

	sse.SetHeaders(c.Writer)
	c.Writer.Flush()

	w := &sseWriter{w: c.Writer}
	heartbeat := time.NewTicker(sse.DefaultHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			if err := w.heartbeat(); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := w.writeEvent(event); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) heartbeatLoop(ctx context.Context, w *sseWriter) {
	ticker := time.NewTicker(sse.DefaultHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.heartbeat(); err != nil {
				return
			}
		}
	}
}

// streamCursor reads the client's resume cursor from the after_id query
// parameter, falling back to the Last-Event-ID header.
func streamCursor(c *gin.Context) int64 {
	if v := c.Query("after_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id >= 0 {
			return id
		}
	}
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id >= 0 {
			return id
		}
	}
	return 0
}
