package lanes

// Event types emitted by lanes.
const (
	EventEnqueued  = "enqueued"
	EventCompleted = "completed"
	EventCleared   = "cleared"
	EventDisposed  = "disposed"
)

// EventHandler is a function that handles lane events
type EventHandler func(event Event)

// Event represents a lane event
type Event struct {
	Type   string                 // one of the Event* constants
	Lane   string                 // Lane name
	TaskID string                 // Task ID, empty for lane-level events
	Data   map[string]interface{} // Additional event data
}

// On registers an event handler for a specific event type.
// Handlers run synchronously on the goroutine that emits the event and must not block.
func (r *Registry) On(eventType string, handler EventHandler) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()

	r.eventHandlers[eventType] = append(r.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (r *Registry) Off(eventType string) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()

	delete(r.eventHandlers, eventType)
}

func (r *Registry) emit(event Event) {
	r.eventMu.RLock()
	handlers := r.eventHandlers[event.Type]
	r.eventMu.RUnlock()

	for _, handler := range handlers {
		r.callHandler(handler, event)
	}
}

func (r *Registry) callHandler(handler EventHandler, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("event", event.Type).
				Str("lane", event.Lane).
				Interface("panic", rec).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}
