// Package stream carries the push channel both ways: a fan-out hub used by
// the mock backend to feed connected SSE clients, and a Subscriber that
// consumes the event stream from the client side.
package stream

import (
	"context"
	"sync"
	"time"

	"hospitalcrm.org/internal/api"
)

// EventName is the SSE event the backend publishes on appointment changes.
const EventName = "appointments"

// Event is one push update: a full replacement array of appointments.
type Event struct {
	Appointments []api.Appointment `json:"appointments"`
	ReceivedAt   time.Time         `json:"-"`
}

// Stream fan-outs appointment updates to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
