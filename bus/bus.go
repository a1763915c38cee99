// Package bus is the in-process fan-out pipeline between committed
// mutations and live subscribers. One publisher-side call delivers a change
// event to every subscription registered on the topic at that moment, in a
// total order all subscribers agree on.
package bus

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// DefaultBuffer is the per-subscription channel bound used when the caller
// passes a non-positive size.
const DefaultBuffer = 64

// Bus fans change events out to subscriptions keyed by topic. The mutex
// guards the topic mapping and the sequence counter; every send inside the
// critical section is non-blocking, so the lock is never held across a
// suspension point and a stalled consumer cannot delay registration,
// publication, or delivery to anyone else.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	topics map[string]map[*Subscription]struct{}
	buffer int
	logger *log.Logger
}

// New creates an empty bus. It accepts subscriptions immediately.
func New(buffer int, logger *log.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is one registered delivery channel. The consumer owns it: the
// bus only keeps a back-reference for delivery and drops that reference on
// Close. Events published before registration are never replayed.
type Subscription struct {
	bus   *Bus
	topic string
	ch    chan domain.ChangeEvent

	closed   bool // guarded by bus.mu
	degraded atomic.Bool
	dropped  atomic.Uint64
}

// Subscribe registers a new delivery channel on topic. The channel starts
// receiving events published from this point on.
func (b *Bus) Subscribe(topic string) *Subscription {
	s := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan domain.ChangeEvent, b.buffer),
	}
	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish assigns the next sequence number to ev and delivers it to every
// subscription registered on topic at this moment. It never blocks and never
// fails: a full subscription drops its oldest buffered event and is flagged
// degraded instead of stalling the publisher or its peers. The assigned
// sequence number is returned.
func (b *Bus) Publish(topic string, ev domain.ChangeEvent) uint64 {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	var saturated []*Subscription
	for s := range b.topics[topic] {
		if s.deliver(ev) {
			saturated = append(saturated, s)
		}
	}
	seq := b.seq
	b.mu.Unlock()
	// Logged outside the critical section so a slow log sink cannot stall
	// other publishers or subscribers.
	if b.logger != nil {
		for _, s := range saturated {
			b.logger.WithFields(log.Fields{
				"topic":   s.topic,
				"seq":     seq,
				"dropped": s.dropped.Load(),
			}).Warn("subscriber falling behind, shedding oldest events")
		}
	}
	return seq
}

// deliver pushes ev without ever blocking. Caller holds bus.mu, so delivery
// order per channel is publish order and no send can race a Close. It
// reports whether this delivery degraded the subscription for the first
// time.
func (s *Subscription) deliver(ev domain.ChangeEvent) bool {
	select {
	case s.ch <- ev:
		return false
	default:
	}
	// Buffer full: shed the oldest event to make room for the newest.
	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)
	select {
	case s.ch <- ev:
	default:
		// Consumer raced the pop; the newest event is lost too.
		s.dropped.Add(1)
	}
	return s.degraded.CompareAndSwap(false, true)
}

// Events returns the delivery channel. It is closed when the subscription is
// closed; nothing is ever sent after Close returns.
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.ch
}

// Close deregisters the subscription and closes its channel. Events
// published after Close returns are not delivered; a delivery already
// buffered stays readable until the channel drains. Close is idempotent.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if s.closed {
		s.bus.mu.Unlock()
		return
	}
	s.closed = true
	if subs, ok := s.bus.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	close(s.ch)
	s.bus.mu.Unlock()
}

// Degraded reports whether this subscription has ever overflowed its buffer.
func (s *Subscription) Degraded() bool {
	return s.degraded.Load()
}

// Dropped returns the number of events shed because the consumer fell
// behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Subscribers returns the number of subscriptions currently registered on
// topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	n := len(b.topics[topic])
	b.mu.Unlock()
	return n
}
