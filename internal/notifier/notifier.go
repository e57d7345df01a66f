package notifier

import "time"

// EventType identifies an orchestration event.
type EventType string

const (
	EventScheduledSessionStarted EventType = "scheduled_session_started"
	EventScheduledSessionStopped EventType = "scheduled_session_stopped"
	EventScheduledSessionFailed  EventType = "scheduled_session_failed"

	EventScheduleCreated EventType = "schedule_created"
	EventScheduleUpdated EventType = "schedule_updated"
	EventScheduleDeleted EventType = "schedule_deleted"

	EventSessionCreated EventType = "session_created"
	EventSessionStarted EventType = "session_started"
	EventSessionStopped EventType = "session_stopped"
	EventSessionUpdated EventType = "session_updated"
	EventSessionDeleted EventType = "session_deleted"
)

// Event is a best-effort orchestration notification. Delivery is
// fire-and-forget; observers must not rely on receiving every event.
type Event struct {
	Type      EventType              `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier broadcasts orchestration events to observers. Publish must never
// block the caller and must never return an error: losing an event is
// acceptable, stalling a firing is not.
type Notifier interface {
	Publish(event Event)
}

// NewEvent builds an event with the current timestamp.
func NewEvent(t EventType, data map[string]interface{}) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// SessionEvent builds an event that references a session by id.
func SessionEvent(t EventType, sessionID string) Event {
	return NewEvent(t, map[string]interface{}{"session_id": sessionID})
}

// FailureEvent builds a scheduled_session_failed event.
func FailureEvent(sessionID, reason string) Event {
	return NewEvent(EventScheduledSessionFailed, map[string]interface{}{
		"session_id": sessionID,
		"reason":     reason,
	})
}

// Nop is a Notifier that discards every event. Used when no webhook URL is
// configured.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(Event) {}
