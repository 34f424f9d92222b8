package service

import (
	"sync"

	"plcmesh/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventAdapterOnline     EventType = "adapter_online"
	EventAdapterOffline    EventType = "adapter_offline"
	EventAdapterDiscovered EventType = "adapter_discovered"
	EventIdentityAssigned  EventType = "identity_assigned"
	EventDetailsUpdated    EventType = "details_updated"
	EventLinksUpdated      EventType = "links_updated"
	EventAdapterRestarted  EventType = "adapter_restarted"
	EventConfigReloaded    EventType = "config_reloaded"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// AdapterPayload identifies the adapter an event is about
type AdapterPayload struct {
	MAC   domain.AdapterID `json:"mac"`
	Index int              `json:"index,omitempty"`
	Name  string           `json:"name,omitempty"`
}

// DetailsPayload lists the adapters whose detail fields were refreshed by
// one reporter's discover list
type DetailsPayload struct {
	Reporter domain.AdapterID   `json:"reporter"`
	MACs     []domain.AdapterID `json:"macs"`
}

// LinksPayload summarises a stats cycle
type LinksPayload struct {
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
