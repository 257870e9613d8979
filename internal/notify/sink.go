package notify

import (
	"sync"

	"opsline/internal/domain"
)

// Sink is one live push connection. The Hub is its only writer. When the
// buffer is full the oldest pending notification is dropped; it is still in
// History.
type Sink struct {
	hub    *Hub
	userID string

	mu     sync.Mutex
	ch     chan domain.Notification
	closed bool
	done   chan struct{}
}

func newSink(h *Hub, userID string, buffer int) *Sink {
	return &Sink{
		hub:    h,
		userID: userID,
		ch:     make(chan domain.Notification, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Sink) UserID() string { return s.userID }

// C yields pushed notifications and is closed when the sink shuts down.
func (s *Sink) C() <-chan domain.Notification { return s.ch }

// Done is closed when the sink is replaced, disconnected or closed.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Close releases the sink. A newer connection for the same user is left alone.
func (s *Sink) Close() {
	s.hub.release(s)
	s.shutdown()
}

func (s *Sink) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// deliver never blocks. It reports whether n was queued and how many older
// notifications were evicted to make room.
func (s *Sink) deliver(n domain.Notification) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, 0
	}
	dropped := 0
	for {
		select {
		case s.ch <- n:
			return true, dropped
		default:
		}
		select {
		case <-s.ch:
			dropped++
		default:
		}
	}
}
