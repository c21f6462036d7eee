package core

import "time"

// SessionStatus enumerates the lifecycle states of a persisted session.
type SessionStatus string

const (
	// SessionActive marks a session that is currently usable.
	SessionActive SessionStatus = "active"
	// SessionInactive marks a closed session that may be re-entered.
	SessionInactive SessionStatus = "inactive"
	// SessionArchived is terminal; archived sessions cannot be re-entered.
	SessionArchived SessionStatus = "archived"
)

// Valid reports whether the status is one of the known values.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionInactive, SessionArchived:
		return true
	}
	return false
}

// Session is the durable record of a conversation thread. It carries
// bookkeeping only; the expensive live counterpart is the pooled engine
// instance, which exists at most once per session.
//
// Contract:
//   - Status transitions are restricted to active -> inactive,
//     inactive -> active (re-entry), active/inactive -> archived
//   - Archived is terminal
//   - Records are never physically deleted by the session subsystem;
//     closing only changes status
type Session struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	UserID       string        `json:"user_id,omitempty"`
	ConfigID     string        `json:"config_id,omitempty"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	LastActivity time.Time     `json:"last_activity"`
	Created      time.Time     `json:"created"`
	Updated      time.Time     `json:"updated"`
}

// NewSession creates an active session with a fresh id.
func NewSession(title, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           NewID(),
		Title:        title,
		UserID:       userID,
		Status:       SessionActive,
		LastActivity: now,
		Created:      now,
		Updated:      now,
	}
}

// CanTransition reports whether moving from the current status to next is a
// legal state change.
func (s *Session) CanTransition(next SessionStatus) bool {
	switch s.Status {
	case SessionActive:
		return next == SessionInactive || next == SessionArchived
	case SessionInactive:
		return next == SessionActive || next == SessionArchived
	case SessionArchived:
		return false
	}
	return false
}

// Touch updates the activity bookkeeping timestamps.
func (s *Session) Touch() {
	now := time.Now().UTC()
	s.LastActivity = now
	s.Updated = now
}

// Clone returns a copy safe for independent mutation.
func (s *Session) Clone() *Session {
	clone := *s
	return &clone
}
