/**
 * @description
 * In-process event fan-out. The bus is constructed once in main and injected
 * into every producer and consumer; it is not a package-level singleton.
 *
 * Subscribers receive only events addressed to their user id. Delivery is
 * best-effort: sends are non-blocking, so a subscriber that stops draining its
 * channel loses events instead of stalling ledger writers. Clients recover
 * missed events by polling the payment status endpoint.
 */

package app

import (
	"sync"

	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
)

const subscriberBuffer = 16

// EventBus broadcasts ledger transitions to per-user subscriber channels.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[int]chan domain.Event
	nextID int
	closed bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uuid.UUID]map[int]chan domain.Event)}
}

// Subscribe registers a live event stream for the user. The returned cancel
// function must be called when the client disconnects; it closes the channel.
func (b *EventBus) Subscribe(userID uuid.UUID) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan domain.Event)
	}
	b.subs[userID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if chans, ok := b.subs[userID]; ok {
			if sub, ok := chans[id]; ok {
				delete(chans, id)
				if len(chans) == 0 {
					delete(b.subs, userID)
				}
				close(sub)
			}
		}
	}
	return ch, cancel
}

// Publish delivers the event to every live subscriber of event.UserID.
// A full subscriber channel is skipped rather than blocked on.
func (b *EventBus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live streams for a user.
func (b *EventBus) SubscriberCount(userID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Close shuts the bus down and closes every subscriber channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for userID, chans := range b.subs {
		for id, ch := range chans {
			delete(chans, id)
			close(ch)
		}
		delete(b.subs, userID)
	}
}
