package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SetHeaders sets the standard SSE response headers.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// flusher is the subset of http.ResponseWriter behaviour SSE needs.
type flusher interface {
	io.Writer
	Flush()
}

// WriteEvent writes one SSE frame and flushes it. An Event ID, when set,
// becomes the frame's id: field so clients can resume with Last-Event-ID.
func WriteEvent(w flusher, event Event) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}

	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write sse id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}

	w.Flush()
	return nil
}

// WriteHeartbeat writes an SSE comment to keep the connection alive.
func WriteHeartbeat(w flusher) error {
	if _, err := io.WriteString(w, ":heartbeat\n\n"); err != nil {
		return fmt.Errorf("write sse heartbeat: %w", err)
	}

	w.Flush()
	return nil
}
