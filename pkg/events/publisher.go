// Package events carries in-process notifications from the scoreboard core
// to its collaborators (renderers, the sync engine, status endpoints).
package events

import "github.com/sasha-s/go-deadlock"

// EventType represents the type of event
type EventType string

// Define event types
const (
	// EventStateChanged carries a game.Change for every field a mutation touched.
	EventStateChanged EventType = "STATE_CHANGED"
	// EventConnectionCountChanged carries the number of live unicast peers as an int.
	EventConnectionCountChanged EventType = "CONNECTION_COUNT_CHANGED"
	// EventSyncStateChanged carries the new sync state of the local engine.
	EventSyncStateChanged EventType = "SYNC_STATE_CHANGED"
	// EventListenerReady carries the address the master accepts peers on.
	EventListenerReady EventType = "LISTENER_READY"

	allEvents EventType = "*"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	Payload interface{}
}

// Handler is a function that processes events. Handlers run on the
// publishing goroutine and must not block.
type Handler func(event Event)

// Publisher is the central event publisher
type Publisher struct {
	mu          deadlock.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) {
	p.Subscribe(allEvents, handler)
}

// Publish delivers an event to its subscribers in registration order, then
// to the "all events" handlers. Delivery is synchronous so that a renderer
// observes changes in the order they were made.
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}

	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	allHandlers := p.subscribers[allEvents]
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}

	for _, handler := range allHandlers {
		handler(event)
	}
}
