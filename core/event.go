package core

import "time"

// EventType tags a session lifecycle transition.
type EventType string

const (
	// EventCreated fires when a new session record is created.
	EventCreated EventType = "created"
	// EventEntered fires when a session is entered (including re-entry).
	EventEntered EventType = "entered"
	// EventSwitched fires when the current session changes.
	EventSwitched EventType = "switched"
	// EventClosed fires when a session is closed (status inactive).
	EventClosed EventType = "closed"
	// EventArchived fires when a session reaches its terminal state.
	EventArchived EventType = "archived"
)

// SessionEvent is delivered synchronously to registered listeners on every
// session state transition, in registration order. Treat as immutable after
// emission.
type SessionEvent struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// NewSessionEvent creates an event stamped with the current UTC time.
func NewSessionEvent(t EventType, sessionID string) SessionEvent {
	return SessionEvent{Type: t, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// EventListener receives session lifecycle events. A panicking listener is
// recovered and logged; it never aborts the transition or affects other
// listeners.
type EventListener func(ev SessionEvent)
