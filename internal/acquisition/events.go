package acquisition

import "time"

// Event represents a controller lifecycle event.
// Minimal and stable: name + attempt ID and optional fields via key/values.
type Event struct {
	Name      string
	AttemptID string
	State     State
	Time      time.Time
	Fields    map[string]any
}

// Event names.
const (
	EventState    = "state"
	EventProgress = "progress"
	EventReady    = "ready"
	EventError    = "error"
	EventCopy     = "bundled_copy"
	EventClosed   = "closed"
)

// EventPublisher receives events from the controller. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
