package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventInvalidToken     EventType = "InvalidToken"
	EventAuthorized       EventType = "Authorized"
	EventError            EventType = "Error"
	EventConnectionStatus EventType = "ConnectionStatus"
	EventBalanceUpdated   EventType = "BalanceUpdated"
	EventCatalogRefreshed EventType = "CatalogRefreshed"
	EventServerTime       EventType = "ServerTime"
	EventStreamUpdate     EventType = "StreamUpdate"
)

// AllEventTypes lists every event the core publishes
var AllEventTypes = []EventType{
	EventInvalidToken,
	EventAuthorized,
	EventError,
	EventConnectionStatus,
	EventBalanceUpdated,
	EventCatalogRefreshed,
	EventServerTime,
	EventStreamUpdate,
}

// Event represents a system event. Data holds one of the payload types of
// this package.
type Event struct {
	ID   string      `json:"id"`
	Type EventType   `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// NewEvent stamps a new event with an id and the current time
func NewEvent(eventType EventType, data interface{}) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now().UTC(),
		Data: data,
	}
}

// Publisher is the write side of the bus
type Publisher interface {
	Publish(event Event)
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers map[EventType][]chan Event
	wildcard    []chan Event
	closed      bool
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
	}
}

// Subscribe creates a subscription to events of a specific type
func (eb *EventBus) Subscribe(eventType EventType, bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all event types
func (eb *EventBus) SubscribeAll(bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		close(ch)
		return ch
	}
	eb.wildcard = append(eb.wildcard, ch)
	return ch
}

// Publish publishes an event to all subscribers without blocking. A full
// subscriber misses the event.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range eb.wildcard {
		select {
		case ch <- event:
		default:
		}
	}
}

// Unsubscribe removes and closes a subscription made with Subscribe or
// SubscribeAll
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subscriber := range subscribers {
			if subscriber == ch {
				eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
				close(subscriber)
				return
			}
		}
	}
	for i, subscriber := range eb.wildcard {
		if subscriber == ch {
			eb.wildcard = append(eb.wildcard[:i], eb.wildcard[i+1:]...)
			close(subscriber)
			return
		}
	}
}

// Close closes all subscriber channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for eventType, subscribers := range eb.subscribers {
		for _, ch := range subscribers {
			close(ch)
		}
		delete(eb.subscribers, eventType)
	}
	for _, ch := range eb.wildcard {
		close(ch)
	}
	eb.wildcard = nil
}
