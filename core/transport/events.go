package transport

import "sync"

// Event names a connection-lifecycle event a transport raises.
type Event string

const (
	EventClientConnected    Event = "client_connected"
	EventClientDisconnected Event = "client_disconnected"
	EventAppMessage         Event = "app_message"
	EventDataReceived       Event = "data_received"
)

// EventRegistry maps event names to ordered listener lists. Listeners
// run synchronously in registration order when the transport raises
// the event.
type EventRegistry struct {
	mu        sync.RWMutex
	listeners map[Event][]func(payload any)
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{listeners: map[Event][]func(payload any){}}
}

func (r *EventRegistry) AddListener(event Event, listener func(payload any)) {
	r.mu.Lock()
	r.listeners[event] = append(r.listeners[event], listener)
	r.mu.Unlock()
}

func (r *EventRegistry) Emit(event Event, payload any) {
	r.mu.RLock()
	listeners := r.listeners[event]
	r.mu.RUnlock()

	for _, listener := range listeners {
		listener(payload)
	}
}
