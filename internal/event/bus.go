// Package event provides a synchronous pub-sub bus for lifecycle
// notifications: processes starting and exiting, the listener changing
// state, the shutdown sentinel going out.
//
// Subscribers are called in the publishing goroutine, specific handlers
// first, then wildcard handlers, each group in registration order. A
// panicking handler is reported and does not stop delivery.
//
//	bus := event.NewBus(nil)
//	bus.Subscribe(event.TypeProcessStartFailed, func(e event.Event) {
//	    failed := e.(event.ProcessStartFailedEvent)
//	    fmt.Println(failed.Name, failed.Err)
//	})
//	bus.Publish(event.NewProcessStartFailedEvent("Process-3", event.RoleProducer, err))
package event

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/logfunnel/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the subscription key for SubscribeAll.
const wildcard = "*"

type subscription struct {
	id      string
	handler Handler
}

// Bus dispatches events to subscribers. It is safe for concurrent use; a nil
// *Bus discards events.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	fallback      *logging.Fallback
}

// NewBus creates a bus. Handler panics are reported to fallback (stderr
// when nil).
func NewBus(fallback *logging.Fallback) *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
		fallback:      fallback,
	}
}

// Subscribe registers a handler for one event type and returns its ID.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches e to its subscribers.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	specific := append([]subscription(nil), b.subscriptions[e.EventType()]...)
	all := append([]subscription(nil), b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.fallback.Report("event bus", fmt.Errorf("handler panicked for %s: %v\n%s", e.EventType(), r, debug.Stack()))
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
