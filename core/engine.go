package core

import (
	"context"
	"time"
)

// EngineMessage is the engine-internal message shape. Conversion to and from
// the stored Message must be lossless for id, role, content, timestamp and
// metadata so that re-synchronization after eviction is idempotent.
type EngineMessage struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EngineState is a point-in-time snapshot of an engine for introspection.
type EngineState struct {
	Initialized bool   `json:"initialized"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	HistoryLen  int    `json:"history_len"`
}

// Engine is the expensive, stateful collaborator that talks to a language
// model and holds bounded in-memory history for one session.
//
// Implementations MUST:
//   - Be safe for concurrent use; the synchronizer appends to history while
//     other callers may read state
//   - Honor the Config timeout on SendMessage and fail with a typed error
//     rather than hang
//   - Release provider resources in Close; Close must be idempotent
type Engine interface {
	// Initialize binds the engine to a config snapshot (provider, model,
	// credentials, prompt, limits). May fail with a ConstructionError.
	Initialize(ctx context.Context, cfg Config) error

	// SendMessage delivers user text and returns the assistant reply plus
	// token usage when the provider reports it.
	SendMessage(ctx context.Context, text string) (string, *TokenUsage, error)

	// History returns a defensive copy of the in-memory history.
	History() []EngineMessage

	// SetHistory replaces the in-memory history (resume after eviction).
	SetHistory(msgs []EngineMessage)

	// AppendHistory appends one message, trimming oldest past the cap.
	AppendHistory(msg EngineMessage)

	// ClearHistory resets the in-memory history to empty.
	ClearHistory()

	// State returns a snapshot for introspection and logging.
	State() EngineState

	// Close releases engine resources.
	Close() error
}

// EngineFactory constructs an uninitialized engine for a config snapshot.
// The pool calls Initialize separately so construction failures surface
// before the instance is admitted.
type EngineFactory func(ctx context.Context, cfg Config) (Engine, error)
