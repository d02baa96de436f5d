package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
)

// doneSentinel closes a stream after its terminal event.
const doneSentinel = "[DONE]"

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one data frame holding data as JSON.
func (s *SSEWriter) WriteEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeFrame(jsonData)
}

// WriteError sends an error event outside the pipeline's own events,
// stamped at the given time.
func (s *SSEWriter) WriteError(message string, at time.Time) error {
	return s.WriteEvent(pipeline.ProgressEvent{
		Kind:      pipeline.EventError,
		Message:   message,
		Timestamp: at.UnixMilli(),
	})
}

// WriteDone sends the close sentinel.
func (s *SSEWriter) WriteDone() error {
	return s.writeFrame([]byte(doneSentinel))
}

func (s *SSEWriter) writeFrame(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
