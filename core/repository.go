package core

import "context"

// SessionFilter narrows and paginates session queries. A nil Status matches
// all statuses. Results are ordered by Updated descending.
type SessionFilter struct {
	Status *SessionStatus
	UserID string
	Limit  int
	Offset int
}

// SessionRepository provides CRUD + query access to session records. All
// writes go through here; no component mutates stored records directly.
// Implementations must provide at least single-record atomicity.
type SessionRepository interface {
	Save(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error) // ErrSessionNotFound when absent
	Update(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	Find(ctx context.Context, filter SessionFilter) ([]*Session, error)
}

// MessageRepository persists conversation messages keyed by owning session.
type MessageRepository interface {
	Save(ctx context.Context, msg *Message) error
	SaveBatch(ctx context.Context, msgs []*Message) error

	// ListBySession returns the most recent limit messages in creation
	// order (oldest first), excluding soft-deleted records. limit <= 0
	// means no bound.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	CountBySession(ctx context.Context, sessionID string) (int, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

// ConfigRepository persists configuration records and resolves defaults.
type ConfigRepository interface {
	Save(ctx context.Context, cfg *Config) error
	Get(ctx context.Context, id string) (*Config, error) // ErrConfigNotFound when absent
	Update(ctx context.Context, cfg *Config) error
	Delete(ctx context.Context, id string) error

	// FindUserDefault returns the default config scoped to userID, or
	// ErrConfigNotFound.
	FindUserDefault(ctx context.Context, userID string) (*Config, error)

	// FindSystemDefault returns the system-wide default config, or
	// ErrConfigNotFound.
	FindSystemDefault(ctx context.Context) (*Config, error)
}
