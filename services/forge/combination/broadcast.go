// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package combination

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names one kind of broadcaster event.
type EventType string

const (
	// EventConnected is delivered to a subscriber immediately on
	// subscribe. Carries no combination data.
	EventConnected EventType = "connected"

	// EventCombinationAdded is published for every successful insert.
	EventCombinationAdded EventType = "combination_added"

	// EventFirstDiscovery is published after EventCombinationAdded for
	// inserts whose record was a first-ever discovery.
	EventFirstDiscovery EventType = "first_discovery"

	// EventCombinationDeleted is published when a record is removed.
	EventCombinationDeleted EventType = "combination_deleted"

	// EventStoreReset is published when the whole store is cleared.
	EventStoreReset EventType = "store_reset"

	// EventShutdown is the final event every subscriber receives when
	// the broadcaster closes.
	EventShutdown EventType = "shutdown"
)

// Event is the wire shape delivered to subscribers. Timestamp marshals
// as RFC 3339 / ISO-8601.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber is one observer's handle on the event stream. Events
// arrive on the channel returned by Events; the channel is closed when
// the subscriber is unsubscribed, dropped, or the broadcaster shuts
// down.
type Subscriber struct {
	id     string
	events chan Event
}

// ID returns the subscriber's unique handle ID.
func (s *Subscriber) ID() string {
	return s.id
}

// Events returns the receive side of the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// DefaultEventBuffer is the per-subscriber channel capacity. A
// subscriber that falls this many events behind is dropped rather than
// allowed to stall delivery to everyone else.
const DefaultEventBuffer = 64

// Broadcaster fans store change events out to all current subscribers.
//
// Delivery is per-subscriber buffered and non-blocking: Publish never
// waits on a slow observer, and a subscriber whose buffer is full is
// removed from the registry and its channel closed. Delivery failure to
// one subscriber is never surfaced to the publisher.
//
// A subscriber only receives events published after it subscribed;
// there is no replay.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[string]*Subscriber
	buffer  int
	closed  bool
	dropped func(count int) // optional hook for metrics
}

// NewBroadcaster creates a broadcaster with the given per-subscriber
// buffer capacity. A non-positive buffer uses DefaultEventBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
	}
}

// OnDrop registers a hook invoked with the number of subscribers
// removed during a Publish because their buffers were full. Used for
// metrics; must not block.
func (b *Broadcaster) OnDrop(fn func(count int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = fn
}

// Subscribe registers a new observer and immediately delivers a
// connected event on its channel. After Close, the returned
// subscriber's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:     uuid.New().String(),
		events: make(chan Event, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.events)
		return sub
	}

	b.subs[sub.id] = sub
	// Buffer is empty here, so this cannot block.
	sub.events <- Event{Type: EventConnected, Timestamp: time.Now().UTC()}
	slog.Debug("subscriber registered", "subscriber_id", sub.id, "total", len(b.subs))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Idempotent:
// calling it twice, with nil, or with a subscriber already dropped by a
// failed delivery is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.events)
	slog.Debug("subscriber removed", "subscriber_id", sub.id, "total", len(b.subs))
}

// Publish delivers the event to every currently registered subscriber.
// Subscribers whose buffers are full are dropped; delivery to the rest
// continues. A zero Timestamp is stamped with the current time.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	droppedCount := 0
	for id, sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			// Subscriber is not draining its channel. Drop it so one
			// stalled observer cannot stall the store for all others.
			delete(b.subs, id)
			close(sub.events)
			droppedCount++
			slog.Warn("dropping slow subscriber", "subscriber_id", id, "event_type", event.Type)
		}
	}
	if droppedCount > 0 && b.dropped != nil {
		b.dropped(droppedCount)
	}
}

// SubscriberCount returns the number of currently registered observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close publishes a final shutdown event, closes every subscriber
// channel, and empties the registry. Subsequent Publish calls are
// no-ops and subsequent Subscribe calls return closed subscribers.
// Safe to call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	shutdown := Event{Type: EventShutdown, Timestamp: time.Now().UTC()}
	for id, sub := range b.subs {
		select {
		case sub.events <- shutdown:
		default:
		}
		close(sub.events)
		delete(b.subs, id)
	}
	slog.Info("broadcaster closed")
}
