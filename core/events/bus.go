// Package events carries host-internal notifications, primarily module
// lifecycle transitions, from the components that produce them to
// operator-facing consumers. It is distinct from core/dispatch, which routes
// platform events to module handlers.
package events

import (
	"context"
	"sync"
)

// TypedEvent is implemented by every payload published on the bus.
type TypedEvent interface {
	// EventType returns the topic identifier the payload belongs to.
	EventType() string
}

// Bus is a topic-keyed pub/sub channel fan-out. Publishing never blocks: a
// subscriber that stops draining its channel misses events rather than
// stalling the publisher.
type Bus interface {
	// Subscribe returns a channel of events for the topic and a cancel
	// function releasing the subscription. The channel closes on cancel or
	// when the bus closes.
	Subscribe(topic string) (<-chan TypedEvent, func(), error)
	// Publish delivers a payload to every current subscriber of the topic.
	Publish(ctx context.Context, topic string, payload TypedEvent)
	// Close shuts the bus down, closing all subscriber channels.
	Close()
}

// subscriberBuffer bounds how far a subscriber may lag before it loses events.
const subscriberBuffer = 16

type bus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan TypedEvent]struct{}
	closed bool
}

// New returns an empty bus.
func New() Bus {
	return &bus{subs: make(map[string]map[chan TypedEvent]struct{})}
}

func (b *bus) Subscribe(topic string) (<-chan TypedEvent, func(), error) {
	ch := make(chan TypedEvent, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}, nil
	}
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[chan TypedEvent]struct{})
		b.subs[topic] = set
	}
	set[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.subs[topic]
		if !ok {
			return
		}
		if _, live := set[ch]; !live {
			return
		}
		delete(set, ch)
		close(ch)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
	return ch, cancel, nil
}

func (b *bus) Publish(ctx context.Context, topic string, payload TypedEvent) {
	// Sends stay under the read lock: channels only close under the write
	// lock, so a concurrent cancel cannot close one mid-send. The sends never
	// block, so holding the lock here is cheap.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return
		default:
			// Subscriber is full; it loses this event.
		}
	}
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, topic)
	}
}
