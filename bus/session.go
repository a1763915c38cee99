package bus

import (
	"errors"
	"sync"

	"todo-api/domain"
)

// SessionState tracks a session through its lifecycle. Transitions only move
// forward; Closed is terminal and a new connection always gets a new session.
type SessionState int32

const (
	Connecting SessionState = iota
	Active
	Closing
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var errSessionNotConnecting = errors.New("session already activated or closed")

// Session binds one client connection to the bus for one topic. It owns its
// subscription channel exclusively; the bus holds only the delivery
// back-reference, which Close severs before the channel is released.
type Session struct {
	bus   *Bus
	topic string

	mu    sync.Mutex
	state SessionState
	sub   *Subscription
}

// NewSession returns a session in Connecting. Nothing is registered on the
// bus until Activate.
func NewSession(b *Bus, topic string) *Session {
	return &Session{bus: b, topic: topic}
}

// Activate registers with the bus and moves to Active. The returned channel
// carries events in publish order; it closes when the session closes.
func (s *Session) Activate() (<-chan domain.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting {
		return nil, errSessionNotConnecting
	}
	s.sub = s.bus.Subscribe(s.topic)
	s.state = Active
	return s.sub.Events(), nil
}

// Close tears the session down: Closing, deregister from the bus, discard
// any buffered in-flight deliveries, Closed. Safe to call from any state and
// more than once; only the first call does the work.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
		for range sub.ch {
			// Discard in-flight deliveries buffered before deregistration.
		}
	}

	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Degraded reports whether deliveries were shed because this client's
// consumer fell behind. It never affects other sessions or the publisher.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	return sub != nil && sub.Degraded()
}

// Dropped returns how many events were shed for this session.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return 0
	}
	return sub.Dropped()
}
