package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/jonathan/appraisal-agent/internal/types"
)

// EventKind is the type of a progress event.
type EventKind string

const (
	EventThinking      EventKind = "thinking"
	EventStageStart    EventKind = "stage_start"
	EventStageComplete EventKind = "stage_complete"
	EventProgress      EventKind = "progress"
	EventError         EventKind = "error"
	EventComplete      EventKind = "complete"
)

// Terminal reports whether the event ends a stream.
func (k EventKind) Terminal() bool {
	return k == EventComplete || k == EventError
}

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Kind      EventKind       `json:"type"`
	Stage     types.StageName `json:"node,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      any             `json:"data,omitempty"`
}

// MarshalJSON writes the payload of a complete event under "result" and
// every other payload under "data".
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	type plain ProgressEvent
	if e.Kind != EventComplete {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		Data   any `json:"data,omitempty"`
		Result any `json:"result,omitempty"`
	}{plain: plain(e), Result: e.Data})
}

// ErrEmitterClosed is returned when emitting after the stream has ended.
var ErrEmitterClosed = errors.New("emitter closed")

// Emitter is the per-request event channel. It has one producer (the run)
// and one consumer. The channel is unbuffered: Emit blocks until the
// consumer receives the event or ctx is done, so a slow consumer suspends
// the run without events being dropped or reordered.
type Emitter struct {
	ch    chan ProgressEvent
	done  chan struct{}
	clock clockwork.Clock

	mu     sync.RWMutex
	sealed bool
	closed bool
	once   sync.Once
}

// NewEmitter creates an emitter. A nil clock uses the real clock.
func NewEmitter(clock clockwork.Clock) *Emitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Emitter{
		ch:    make(chan ProgressEvent),
		done:  make(chan struct{}),
		clock: clock,
	}
}

// Events returns the receive side. It is closed after the terminal event.
func (e *Emitter) Events() <-chan ProgressEvent {
	return e.ch
}

// Emit delivers one event. A zero Timestamp is filled from the clock.
func (e *Emitter) Emit(ctx context.Context, ev ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sealed || e.closed {
		return ErrEmitterClosed
	}
	return e.send(ctx, ev)
}

// Thinking emits a thinking event for stage.
func (e *Emitter) Thinking(ctx context.Context, stage types.StageName, message string) error {
	return e.Emit(ctx, ProgressEvent{Kind: EventThinking, Stage: stage, Message: message})
}

// Progress emits a progress event for stage with optional data.
func (e *Emitter) Progress(ctx context.Context, stage types.StageName, message string, data any) error {
	return e.Emit(ctx, ProgressEvent{Kind: EventProgress, Stage: stage, Message: message, Data: data})
}

// finish seals the emitter and delivers the terminal event. Pending Emit
// calls drain before the seal takes effect, so nothing is delivered after
// the terminal event.
func (e *Emitter) finish(ctx context.Context, ev ProgressEvent) error {
	e.mu.Lock()
	if e.sealed || e.closed {
		e.mu.Unlock()
		return ErrEmitterClosed
	}
	e.sealed = true
	e.mu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEmitterClosed
	}
	return e.send(ctx, ev)
}

func (e *Emitter) send(ctx context.Context, ev ProgressEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = e.clock.Now().UnixMilli()
	}
	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEmitterClosed
	}
}

// Close ends the stream. It is safe to call more than once.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		e.closed = true
		close(e.ch)
		e.mu.Unlock()
	})
}
