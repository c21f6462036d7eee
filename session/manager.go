package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/config"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/msgsync"
	"github.com/hupe1980/sessionmesh/pool"
)

// Defaults for the session manager.
const (
	DefaultTitle           = "New Conversation"
	DefaultCleanupInterval = 5 * time.Minute
)

// Options configures a Manager.
type Options struct {
	// DefaultTitle names sessions created without an explicit title.
	DefaultTitle string

	// HistoryLoadLimit bounds how much history EnterSession restores into the
	// engine. Zero uses the synchronizer's default.
	HistoryLoadLimit int

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Stats is a point-in-time summary of one session.
type Stats struct {
	SessionID    string             `json:"session_id"`
	Title        string             `json:"title"`
	Status       core.SessionStatus `json:"status"`
	MessageCount int                `json:"message_count"`
	Created      time.Time          `json:"created"`
	LastActivity time.Time          `json:"last_activity"`
	Duration     time.Duration      `json:"duration"`
	Usage        core.TokenUsage    `json:"usage"`
	EngineLive   bool               `json:"engine_live"`
	Provider     string             `json:"provider,omitempty"`
	Model        string             `json:"model,omitempty"`
}

type listenerEntry struct {
	id int
	fn core.EventListener
}

// Manager drives session lifecycle transitions and keeps the durable record,
// the engine pool and the message log consistent with each other. Safe for
// concurrent use.
type Manager struct {
	sessions core.SessionRepository
	loader   *config.Loader
	sync     *msgsync.Synchronizer
	engines  *pool.Manager

	defaultTitle     string
	historyLoadLimit int
	logger           logging.Logger

	mu         sync.Mutex
	currentID  string
	listeners  []listenerEntry
	listenerID int

	cleanupStop chan struct{}
	closeOnce   sync.Once
}

// NewManager wires the session manager over its collaborators. The pool must
// already be bound to the synchronizer as its engine lookup.
func NewManager(sessions core.SessionRepository, loader *config.Loader, syncer *msgsync.Synchronizer, engines *pool.Manager, optFns ...func(o *Options)) *Manager {
	opts := Options{
		DefaultTitle: DefaultTitle,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		sessions:         sessions,
		loader:           loader,
		sync:             syncer,
		engines:          engines,
		defaultTitle:     opts.DefaultTitle,
		historyLoadLimit: opts.HistoryLoadLimit,
		logger:           opts.Logger,
		cleanupStop:      make(chan struct{}),
	}
}

// CreateSession persists a new active session record. It does not construct
// an engine; that happens lazily on EnterSession.
func (m *Manager) CreateSession(ctx context.Context, title, userID string) (*core.Session, error) {
	if title == "" {
		title = m.defaultTitle
	}
	sess := core.NewSession(title, userID)
	if err := m.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.logger.Info("session created", "session_id", sess.ID, "title", title)
	m.emit(core.NewSessionEvent(core.EventCreated, sess.ID))
	return sess.Clone(), nil
}

// EnterSession makes the session current, reactivating it when inactive,
// resolving its config, ensuring a live engine and restoring persisted
// history into it. The engine is returned alongside the record so callers
// that need both never race a later pool lookup against eviction. An empty
// id enters the most recently updated session. Archived sessions cannot be
// entered.
func (m *Manager) EnterSession(ctx context.Context, sessionID string) (*core.Session, core.Engine, error) {
	sess, err := m.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	eng, err := m.activate(ctx, sess)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	m.currentID = sess.ID
	m.mu.Unlock()

	m.logger.Info("session entered", "session_id", sess.ID)
	m.emit(core.NewSessionEvent(core.EventEntered, sess.ID))
	return sess.Clone(), eng, nil
}

// SwitchSession flushes the current session's state to storage and enters the
// target session. The previous session's engine stays pooled; idle cleanup
// reclaims it later. A missing target fails the switch without disturbing the
// current session.
func (m *Manager) SwitchSession(ctx context.Context, sessionID string) (*core.Session, core.Engine, error) {
	// Verify the target before letting go of the current session.
	sess, err := m.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	prev := m.currentID
	m.mu.Unlock()

	if prev != "" && prev != sess.ID {
		if err := m.sync.FlushSession(ctx, prev); err != nil {
			m.logger.Warn("failed to flush previous session on switch", "session_id", prev, "error", err)
		}
	}

	eng, err := m.activate(ctx, sess)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	m.currentID = sess.ID
	m.mu.Unlock()

	ev := core.NewSessionEvent(core.EventSwitched, sess.ID)
	if prev != "" {
		ev.Data = map[string]string{"from": prev}
	}
	m.logger.Info("session switched", "session_id", sess.ID, "from", prev)
	m.emit(ev)
	return sess.Clone(), eng, nil
}

// CloseSession flushes and destroys the session's engine and marks the record
// inactive. The record survives and may be re-entered later. Closing an
// already inactive session is a no-op.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == core.SessionArchived {
		return core.ErrSessionArchived
	}

	m.engines.DestroyForSession(ctx, sessionID)

	// Teardown flushed reconciled statistics; re-read so the status write
	// does not revert them.
	sess, err = m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != core.SessionInactive {
		sess.Status = core.SessionInactive
		sess.Touch()
		if err := m.sessions.Update(ctx, sess); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
	}

	m.mu.Lock()
	if m.currentID == sessionID {
		m.currentID = ""
	}
	m.mu.Unlock()

	m.logger.Info("session closed", "session_id", sessionID)
	m.emit(core.NewSessionEvent(core.EventClosed, sessionID))
	return nil
}

// ArchiveSession moves the session to its terminal state, destroying any live
// engine first. Archiving a session that never had an engine is fine;
// archiving twice is an invalid transition.
func (m *Manager) ArchiveSession(ctx context.Context, sessionID string) error {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.CanTransition(core.SessionArchived) {
		return fmt.Errorf("cannot archive session %s in status %s: %w", sessionID, sess.Status, core.ErrInvalidTransition)
	}

	m.engines.DestroyForSession(ctx, sessionID)

	// Teardown flushed reconciled statistics; re-read so the status write
	// does not revert them.
	sess, err = m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = core.SessionArchived
	sess.Touch()
	if err := m.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	m.mu.Lock()
	if m.currentID == sessionID {
		m.currentID = ""
	}
	m.mu.Unlock()

	m.logger.Info("session archived", "session_id", sessionID)
	m.emit(core.NewSessionEvent(core.EventArchived, sessionID))
	return nil
}

// CurrentSession returns the session most recently entered, or
// ErrSessionNotFound when none is current.
func (m *Manager) CurrentSession(ctx context.Context) (*core.Session, error) {
	m.mu.Lock()
	id := m.currentID
	m.mu.Unlock()
	if id == "" {
		return nil, core.ErrSessionNotFound
	}
	return m.sessions.Get(ctx, id)
}

// FindSessions lists session records matching the filter, most recently
// updated first.
func (m *Manager) FindSessions(ctx context.Context, filter core.SessionFilter) ([]*core.Session, error) {
	return m.sessions.Find(ctx, filter)
}

// SessionStats summarizes a session's record, aggregate token usage and
// whether an engine is currently live for it.
func (m *Manager) SessionStats(ctx context.Context, sessionID string) (*Stats, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	usage, err := m.sync.TokenTotals(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	_, live := m.engines.GetEngine(sessionID)
	stats := &Stats{
		SessionID:    sess.ID,
		Title:        sess.Title,
		Status:       sess.Status,
		MessageCount: sess.MessageCount,
		Created:      sess.Created,
		LastActivity: sess.LastActivity,
		Duration:     sess.LastActivity.Sub(sess.Created),
		Usage:        usage,
		EngineLive:   live,
	}
	if cfg, ok := m.engines.Config(sessionID); ok {
		stats.Provider = cfg.Provider
		stats.Model = cfg.Model
	}
	return stats, nil
}

// AddEventListener registers a listener for lifecycle events and returns a
// handle for removal. Listeners are invoked synchronously in registration
// order.
func (m *Manager) AddEventListener(fn core.EventListener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenerID++
	m.listeners = append(m.listeners, listenerEntry{id: m.listenerID, fn: fn})
	return m.listenerID
}

// RemoveEventListener unregisters a listener by its handle. Unknown handles
// are ignored.
func (m *Manager) RemoveEventListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.listeners {
		if entry.id == id {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// StartAutoCleanup launches the periodic idle-engine sweep. interval <= 0
// uses the default. The sweep stops when the manager is closed.
func (m *Manager) StartAutoCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.cleanupStop:
				return
			case <-ticker.C:
				evicted := m.engines.CleanupInactive(context.Background(), -1)
				if evicted > 0 {
					m.logger.Debug("auto cleanup evicted idle engines", "count", evicted)
				}
			}
		}
	}()
}

// Close stops the cleanup timer, tears down all live engines and releases the
// config loader. Idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.cleanupStop)
		m.engines.Shutdown(ctx)
		m.loader.Close()
	})
	return nil
}

// resolveSession fetches the target of an enter or switch: the named session,
// or the most recently updated one when id is empty. Archived targets are
// rejected.
func (m *Manager) resolveSession(ctx context.Context, sessionID string) (*core.Session, error) {
	var sess *core.Session
	if sessionID == "" {
		found, err := m.sessions.Find(ctx, core.SessionFilter{Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, core.ErrSessionNotFound
		}
		sess = found[0]
	} else {
		var err error
		sess, err = m.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}
	if sess.Status == core.SessionArchived {
		return nil, core.ErrSessionArchived
	}
	return sess, nil
}

// activate reactivates an inactive record, resolves and validates its config,
// ensures a live engine and restores persisted history into it. The engine
// is returned so enter and switch can hand it to the caller.
func (m *Manager) activate(ctx context.Context, sess *core.Session) (core.Engine, error) {
	if sess.Status == core.SessionInactive {
		sess.Status = core.SessionActive
		sess.Touch()
		if err := m.sessions.Update(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to reactivate session: %w", err)
		}
	}

	cfg, err := m.loader.Resolve(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := m.loader.Validate(cfg); err != nil {
		return nil, err
	}
	eng, err := m.engines.InitializeEngine(ctx, sess.ID, *cfg)
	if err != nil {
		return nil, err
	}
	if _, err := m.sync.LoadHistory(ctx, sess.ID, m.historyLoadLimit); err != nil {
		return nil, fmt.Errorf("failed to restore session history: %w", err)
	}
	return eng, nil
}

// emit delivers the event to every listener in registration order. A
// panicking listener is recovered and logged so it cannot abort the
// transition or starve later listeners.
func (m *Manager) emit(ev core.SessionEvent) {
	m.mu.Lock()
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, entry := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("event listener panicked", "event", string(ev.Type), "session_id", ev.SessionID, "panic", r)
				}
			}()
			entry.fn(ev)
		}()
	}
}
