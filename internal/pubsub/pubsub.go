// Package pubsub implements the per-root unilateral bus: server-initiated
// payloads fanned out to subscribers (triggers, subscriptions) outside
// the request/response cycle.
package pubsub

import (
	"sync"
)

// Payload is one unilateral message.
type Payload map[string]any

// IsSettle reports whether the payload announces a settle point.
func (p Payload) IsSettle() bool {
	settled, ok := p["settled"].(bool)
	return ok && settled
}

// Publisher is a multi-producer / multi-consumer bus.
//
// Ordering guarantee: payloads enqueued under the caller's serialization
// (e.g. the asserted-states lock) are delivered to each subscriber in
// enqueue order. Successive settle payloads may be coalesced per
// subscriber; nothing else is ever dropped or reordered.
type Publisher struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID uint64
}

// NewPublisher creates an empty bus.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[uint64]*Subscriber)}
}

// Subscriber is one consumer's FIFO of pending payloads.
//
// Thread-safety: GetPending and Wait may race freely with Enqueue; the
// signal channel coalesces wakeups the way a level-triggered event does.
type Subscriber struct {
	pub    *Publisher
	id     uint64
	notify func()

	mu     sync.Mutex
	items  []Payload
	signal chan struct{}
}

// Subscribe registers a consumer. notify, when non-nil, is invoked after
// each enqueue (used by triggers to ping their loop); it must not block.
func (p *Publisher) Subscribe(notify func()) *Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	sub := &Subscriber{
		pub:    p,
		id:     p.nextID,
		notify: notify,
		signal: make(chan struct{}, 1),
	}
	p.subs[sub.id] = sub
	return sub
}

// Enqueue fans the payload out to every subscriber.
func (p *Publisher) Enqueue(payload Payload) {
	p.mu.Lock()
	subs := make([]*Subscriber, 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		sub.push(payload)
	}
}

// SubscriberCount returns the number of live subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (s *Subscriber) push(payload Payload) {
	s.mu.Lock()
	if payload.IsSettle() && len(s.items) > 0 && s.items[len(s.items)-1].IsSettle() {
		// Coalesce runs of settle announcements; the consumer only
		// cares that a settle happened since it last drained.
		s.items[len(s.items)-1] = payload
	} else {
		s.items = append(s.items, payload)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}

	if s.notify != nil {
		s.notify()
	}
}

// GetPending drains and returns all queued payloads in enqueue order.
func (s *Subscriber) GetPending() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items
	s.items = nil
	return items
}

// Wait returns a channel that signals when payloads may be pending.
// Use with select alongside a stop channel.
func (s *Subscriber) Wait() <-chan struct{} {
	return s.signal
}

// Unsubscribe removes the consumer from the bus. Pending items are
// discarded; further enqueues no longer reach it.
func (s *Subscriber) Unsubscribe() {
	s.pub.mu.Lock()
	delete(s.pub.subs, s.id)
	s.pub.mu.Unlock()

	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}
