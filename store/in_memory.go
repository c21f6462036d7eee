package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/sessionmesh/core"
)

// InMemorySessionRepository is a volatile core.SessionRepository storing
// sessions in a process local map. Each returned record is cloned to prevent
// external mutation of internal state.
type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemorySessionRepository constructs an empty in-memory session repository.
func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{sessions: make(map[string]*core.Session)}
}

// Save stores a new session record. Fails with ErrAlreadyExists on id reuse.
func (r *InMemorySessionRepository) Save(_ context.Context, sess *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; ok {
		return core.ErrAlreadyExists
	}
	r.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a clone of an existing session or ErrSessionNotFound.
func (r *InMemorySessionRepository) Get(_ context.Context, id string) (*core.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Update replaces an existing session record.
func (r *InMemorySessionRepository) Update(_ context.Context, sess *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; !ok {
		return core.ErrSessionNotFound
	}
	r.sessions[sess.ID] = sess.Clone()
	return nil
}

// Delete removes a session record. Absent ids are a no-op.
func (r *InMemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// Find returns sessions matching the filter ordered by Updated descending.
func (r *InMemorySessionRepository) Find(_ context.Context, filter core.SessionFilter) ([]*core.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*core.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if filter.Status != nil && sess.Status != *filter.Status {
			continue
		}
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		res = append(res, sess.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Updated.After(res[j].Updated) })
	if filter.Offset > 0 {
		if filter.Offset >= len(res) {
			return nil, nil
		}
		res = res[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(res) {
		res = res[:filter.Limit]
	}
	return res, nil
}

// InMemoryMessageRepository is a volatile core.MessageRepository keeping
// per-session message slices in creation order.
type InMemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string][]*core.Message // keyed by session id
}

// NewInMemoryMessageRepository constructs an empty in-memory message repository.
func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{messages: make(map[string][]*core.Message)}
}

// Save appends a message to its session's log.
func (r *InMemoryMessageRepository) Save(_ context.Context, msg *core.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], msg.Clone())
	return nil
}

// SaveBatch appends multiple messages preserving slice order.
func (r *InMemoryMessageRepository) SaveBatch(_ context.Context, msgs []*core.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.messages[msg.SessionID] = append(r.messages[msg.SessionID], msg.Clone())
	}
	return nil
}

// ListBySession returns the most recent limit messages ordered by creation
// timestamp (ties keep insertion order), excluding soft-deleted records.
// limit <= 0 means no bound.
func (r *InMemoryMessageRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*core.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.messages[sessionID]
	live := make([]*core.Message, 0, len(all))
	for _, msg := range all {
		if msg.Deleted {
			continue
		}
		live = append(live, msg)
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].Created.Before(live[j].Created) })
	if limit > 0 && len(live) > limit {
		live = live[len(live)-limit:]
	}
	res := make([]*core.Message, len(live))
	for i, msg := range live {
		res[i] = msg.Clone()
	}
	return res, nil
}

// CountBySession returns the number of non-deleted messages for a session.
func (r *InMemoryMessageRepository) CountBySession(_ context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, msg := range r.messages[sessionID] {
		if !msg.Deleted {
			count++
		}
	}
	return count, nil
}

// DeleteBySession removes all messages owned by a session.
func (r *InMemoryMessageRepository) DeleteBySession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, sessionID)
	return nil
}

// InMemoryConfigRepository is a volatile core.ConfigRepository.
type InMemoryConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]*core.Config
}

// NewInMemoryConfigRepository constructs an empty in-memory config repository.
func NewInMemoryConfigRepository() *InMemoryConfigRepository {
	return &InMemoryConfigRepository{configs: make(map[string]*core.Config)}
}

// Save stores a new config record.
func (r *InMemoryConfigRepository) Save(_ context.Context, cfg *core.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[cfg.ID]; ok {
		return core.ErrAlreadyExists
	}
	r.configs[cfg.ID] = cfg.Clone()
	return nil
}

// Get returns a clone of an existing config or ErrConfigNotFound.
func (r *InMemoryConfigRepository) Get(_ context.Context, id string) (*core.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, core.ErrConfigNotFound
	}
	return cfg.Clone(), nil
}

// Update replaces an existing config record.
func (r *InMemoryConfigRepository) Update(_ context.Context, cfg *core.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[cfg.ID]; !ok {
		return core.ErrConfigNotFound
	}
	r.configs[cfg.ID] = cfg.Clone()
	return nil
}

// Delete removes a config record. Absent ids are a no-op.
func (r *InMemoryConfigRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, id)
	return nil
}

// FindUserDefault returns the default config scoped to userID.
func (r *InMemoryConfigRepository) FindUserDefault(_ context.Context, userID string) (*core.Config, error) {
	if userID == "" {
		return nil, core.ErrConfigNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.configs {
		if cfg.IsDefault && cfg.UserID == userID {
			return cfg.Clone(), nil
		}
	}
	return nil, core.ErrConfigNotFound
}

// FindSystemDefault returns the system-wide default config.
func (r *InMemoryConfigRepository) FindSystemDefault(_ context.Context) (*core.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.configs {
		if cfg.IsDefault && cfg.UserID == "" {
			return cfg.Clone(), nil
		}
	}
	return nil, core.ErrConfigNotFound
}
