package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

// Emitter is the sink the iteration loop writes observable events to.
// Closed reports whether the client has gone away; callers check it at every
// suspension point and stop work promptly when it turns true.
type Emitter interface {
	Emit(ev Event) error
	Closed() bool
}

// SSEEmitter writes events to an echo response as server-sent events. It
// guarantees the End event goes out at most once no matter how many exit
// paths race to send it.
type SSEEmitter struct {
	resp    *echo.Response
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
	ended   bool
}

// NewSSEEmitter prepares the response for event streaming. The response
// writer must support flushing.
func NewSSEEmitter(c echo.Context) (*SSEEmitter, error) {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &SSEEmitter{resp: resp, flusher: flusher}, nil
}

func (e *SSEEmitter) Emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("stream closed")
	}
	if ev.Type == EventEnd {
		if e.ended {
			return nil
		}
		e.ended = true
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(e.resp, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		e.closed = true
		return fmt.Errorf("writing %s event: %w", ev.Type, err)
	}
	e.flusher.Flush()
	return nil
}

func (e *SSEEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// MarkClosed records that the underlying connection is gone, typically from
// the request context's Done channel.
func (e *SSEEmitter) MarkClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Recorder is an in-memory Emitter for tests and trace capture.
type Recorder struct {
	mu         sync.Mutex
	events     []Event
	closed     bool
	CloseAfter int // when > 0, the recorder reports closed after this many events
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Type == EventEnd {
		for _, prev := range r.events {
			if prev.Type == EventEnd {
				return nil
			}
		}
	}
	r.events = append(r.events, ev)
	if r.CloseAfter > 0 && len(r.events) >= r.CloseAfter {
		r.closed = true
	}
	return nil
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close marks the recorder as disconnected.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the event types in emission order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
