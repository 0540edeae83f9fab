package stream

import (
	"context"
	"fmt"
	"sync"
)

// ActiveStreams maps a chat id to the cancel function of its live request so
// a stop endpoint (or another instance via pub/sub) can end it. The map is
// bounded; registration fails when the instance is already at capacity, and
// entries are removed in the caller's cleanup on every exit path.
type ActiveStreams struct {
	mu      sync.Mutex
	active  map[string]context.CancelFunc
	maxSize int
}

func NewActiveStreams(maxSize int) *ActiveStreams {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &ActiveStreams{
		active:  make(map[string]context.CancelFunc),
		maxSize: maxSize,
	}
}

// Register records a live stream. A second stream for the same chat cancels
// and replaces the first.
func (s *ActiveStreams) Register(chatID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.active[chatID]; ok {
		prev()
		s.active[chatID] = cancel
		return nil
	}
	if len(s.active) >= s.maxSize {
		return fmt.Errorf("too many active streams (%d)", len(s.active))
	}
	s.active[chatID] = cancel
	return nil
}

// Stop cancels the live stream for chatID, reporting whether one existed.
func (s *ActiveStreams) Stop(chatID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[chatID]
	if ok {
		delete(s.active, chatID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove drops the entry without cancelling, for the request's own cleanup.
func (s *ActiveStreams) Remove(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, chatID)
}

// Len reports how many streams are currently live on this instance.
func (s *ActiveStreams) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
