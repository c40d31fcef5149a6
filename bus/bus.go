// Package bus implements the process-wide publish/subscribe hub described in
// spec §4.1. It is grounded on the teacher's runtime/agent/hooks.Bus
// (goa.design/goa-ai), generalized in one direction: the teacher's bus
// delivers synchronously in the publisher's goroutine and stops at the first
// subscriber error, which is the right behavior for a small number of
// trusted internal observability subscribers. The session engine's bus
// instead fans out to a stdout-serializing subscriber that must never stall
// a publisher (the session processor), so delivery here is asynchronous per
// subscriber, backed by a bounded queue that drops the oldest events on
// overflow and emits a subscriber.overflow diagnostic in their place.
package bus

import (
	"context"
	"sync"
)

// EventType discriminates published events.
type EventType string

const (
	EventSessionIdle       EventType = "session.idle"
	EventSessionError      EventType = "session.error"
	EventMessagePartUpdate EventType = "message.part.updated"
	EventMessageCreated    EventType = "message.created"
	EventSubscriberOverflow EventType = "subscriber.overflow"
)

// Event is the envelope published on the bus. Payload carries the
// type-specific data; consumers type-assert it once they have filtered on
// Type/SessionID.
type Event struct {
	Type      EventType
	SessionID string
	Payload   any
}

// Filter decides whether an Event should be delivered to a given
// subscription. A nil Filter matches everything ("all").
type Filter func(Event) bool

// BySession returns a Filter that matches only events for the given session,
// always letting subscriber.overflow diagnostics for that subscription
// through regardless of session id.
func BySession(sessionID string) Filter {
	return func(e Event) bool {
		return e.SessionID == sessionID || e.Type == EventSubscriberOverflow
	}
}

// ByType returns a Filter that matches only the given event types.
func ByType(types ...EventType) Filter {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// All matches every event unconditionally. Use as an explicit Filter value
// when a nil Filter would be ambiguous in caller code.
func All(Event) bool { return true }

const defaultQueueSize = 256

type (
	// Bus is an in-process, multi-subscriber publish/subscribe hub. It is
	// safe for concurrent use by multiple publishers and subscribers.
	Bus struct {
		mu   sync.RWMutex
		subs map[*subscription]struct{}
	}

	// Subscription represents one registered observer. Receiving from the
	// channel returned by Events delivers events in publication order; Unsubscribe stops delivery and
	// is idempotent.
	Subscription struct {
		sub *subscription
	}

	subscription struct {
		bus     *Bus
		filter  Filter
		queue   chan Event
		once    sync.Once
		closeCh chan struct{}
	}
)

// New constructs an empty Bus ready for immediate use.
func New() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Subscribe registers a new observer. When filter is nil, All is used. The
// returned Subscription exposes a receive channel and an Unsubscribe method;
// callers must drain the channel (or call Unsubscribe) to avoid leaking the
// delivery goroutine-free queue — delivery itself never blocks regardless of
// whether the channel is drained, because of the bounded drop-oldest queue.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	if filter == nil {
		filter = All
	}
	s := &subscription{
		bus:     b,
		filter:  filter,
		queue:   make(chan Event, defaultQueueSize),
		closeCh: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return &Subscription{sub: s}
}

// Events returns the channel this subscription receives events on.
func (s *Subscription) Events() <-chan Event { return s.sub.queue }

// Unsubscribe removes the subscription from the bus. After it returns, no
// further events are delivered to this subscription. Safe to call more than
// once.
func (s *Subscription) Unsubscribe() {
	s.sub.once.Do(func() {
		s.sub.bus.mu.Lock()
		delete(s.sub.bus.subs, s.sub)
		s.sub.bus.mu.Unlock()
		close(s.sub.closeCh)
	})
}

// Publish delivers event to every currently registered subscriber whose
// filter matches. Publish never blocks on a slow subscriber: each
// subscriber's queue is bounded, and a full queue is drained of its two
// oldest entries to make room for a subscriber.overflow diagnostic and the
// new event, so the subscriber can observe (and report) the loss.
//
// The context is accepted for symmetry with the teacher's Bus.Publish
// signature and future cancellation-aware delivery, but synchronous delivery
// here is already non-blocking, so ctx is not currently consulted.
func (b *Bus) Publish(_ context.Context, event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.filter(event) {
			continue
		}
		s.deliver(event)
	}
}

func (s *subscription) deliver(event Event) {
	select {
	case s.queue <- event:
		return
	case <-s.closeCh:
		return
	default:
	}

	// Queue is full: drop the two oldest entries to make room for an
	// overflow diagnostic and the real event, then enqueue both.
	for i := 0; i < 2; i++ {
		select {
		case <-s.queue:
		default:
		}
	}
	select {
	case s.queue <- Event{Type: EventSubscriberOverflow, SessionID: event.SessionID}:
	default:
	}
	select {
	case s.queue <- event:
	case <-s.closeCh:
	default:
	}
}
