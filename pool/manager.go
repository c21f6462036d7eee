package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// Defaults for pool capacity and idle eviction.
const (
	DefaultMaxInstances = 10
	DefaultIdleTimeout  = 30 * time.Minute
)

// Syncer flushes a session's durable state during teardown. Satisfied by
// *msgsync.Synchronizer.
type Syncer interface {
	FlushSession(ctx context.Context, sessionID string) error
}

// Options configures a Manager.
type Options struct {
	// MaxInstances bounds the number of live engines. Admitting an engine
	// beyond the bound evicts the least-recently-used instance first.
	MaxInstances int

	// IdleTimeout is the default threshold for CleanupInactive.
	IdleTimeout time.Duration

	// Syncer flushes session state during teardown. Optional; teardown
	// proceeds without durable flushing when nil.
	Syncer Syncer

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// instance tracks one live engine. Exactly one instance may exist per
// session id; the pending reservation map upholds this across slow creates.
type instance struct {
	sessionID    string
	engine       core.Engine
	config       core.Config // snapshot taken at creation
	lastActivity time.Time
	active       bool
	seq          uint64 // insertion order, deterministic eviction tie-break
}

// Manager creates, fetches, evicts and tears down engine instances while
// enforcing the capacity limit and idle-timeout policy. Safe for concurrent
// use; the pool map is guarded by a single mutex and slow engine
// construction happens outside it.
type Manager struct {
	factory     core.EngineFactory
	syncer      Syncer
	maxEngines  int
	idleTimeout time.Duration
	logger      logging.Logger

	mu        sync.Mutex
	instances map[string]*instance
	pending   map[string]chan struct{}
	seq       uint64
}

// NewManager constructs a Manager around an engine factory.
func NewManager(factory core.EngineFactory, optFns ...func(o *Options)) *Manager {
	opts := Options{
		MaxInstances: DefaultMaxInstances,
		IdleTimeout:  DefaultIdleTimeout,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		factory:     factory,
		syncer:      opts.Syncer,
		maxEngines:  opts.MaxInstances,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		instances:   make(map[string]*instance),
		pending:     make(map[string]chan struct{}),
	}
}

// InitializeEngine returns the live engine for the session, constructing one
// when absent. Re-requesting a live session touches its last-activity and
// returns the existing engine without re-initialization. Construction
// failures surface as a ConstructionError and leave the pool unchanged.
func (m *Manager) InitializeEngine(ctx context.Context, sessionID string, cfg core.Config) (core.Engine, error) {
	for {
		m.mu.Lock()
		if inst, ok := m.instances[sessionID]; ok && inst.active {
			inst.lastActivity = time.Now()
			eng := inst.engine
			m.mu.Unlock()
			return eng, nil
		}
		if wait, ok := m.pending[sessionID]; ok {
			// Another caller is constructing for this session id.
			m.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		reserved := make(chan struct{})
		m.pending[sessionID] = reserved
		m.mu.Unlock()

		eng, err := m.construct(ctx, sessionID, cfg)

		m.mu.Lock()
		delete(m.pending, sessionID)
		close(reserved)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		// Pre-admission capacity enforcement: the map never exceeds the
		// bound, not even transiently.
		evicted := m.evictOverCapacityLocked(len(m.instances) + 1)
		m.seq++
		m.instances[sessionID] = &instance{
			sessionID:    sessionID,
			engine:       eng,
			config:       *cfg.Clone(),
			lastActivity: time.Now(),
			active:       true,
			seq:          m.seq,
		}
		size := len(m.instances)
		m.mu.Unlock()

		for _, old := range evicted {
			m.teardown(ctx, old)
		}
		m.logLifecycle("create", sessionID, size)
		return eng, nil
	}
}

// construct builds and initializes an engine outside the pool lock.
func (m *Manager) construct(ctx context.Context, sessionID string, cfg core.Config) (core.Engine, error) {
	eng, err := m.factory(ctx, cfg)
	if err != nil {
		return nil, asConstructionError(sessionID, cfg.Provider, err)
	}
	if err := eng.Initialize(ctx, cfg); err != nil {
		if cerr := eng.Close(); cerr != nil {
			m.logger.Warn("failed to close half-built engine", "session_id", sessionID, "error", cerr)
		}
		return nil, asConstructionError(sessionID, cfg.Provider, err)
	}
	return eng, nil
}

func asConstructionError(sessionID, provider string, err error) error {
	var cerr *core.ConstructionError
	if errors.As(err, &cerr) {
		if cerr.SessionID == "" {
			cerr.SessionID = sessionID
		}
		return cerr
	}
	return &core.ConstructionError{SessionID: sessionID, Provider: provider, Err: err}
}

// GetEngine is a non-creating lookup. It touches last-activity when the
// instance is found and active.
func (m *Manager) GetEngine(sessionID string) (core.Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[sessionID]
	if !ok || !inst.active {
		return nil, false
	}
	inst.lastActivity = time.Now()
	return inst.engine, true
}

// Config returns the config snapshot an instance was initialized with.
func (m *Manager) Config(sessionID string) (core.Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[sessionID]
	if !ok {
		return core.Config{}, false
	}
	return *inst.config.Clone(), true
}

// DestroyForSession synchronizes session state to storage, releases the
// engine's resources and removes the instance from the pool. Destroying an
// absent session is a no-op.
func (m *Manager) DestroyForSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	inst, ok := m.instances[sessionID]
	if ok {
		delete(m.instances, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.teardown(ctx, inst)
}

// CleanupInactive destroys every instance idle for longer than maxIdle, plus
// any already marked inactive. Pass a negative maxIdle to use the configured
// default. Each destroy is independently fault-isolated.
func (m *Manager) CleanupInactive(ctx context.Context, maxIdle time.Duration) int {
	if maxIdle < 0 {
		maxIdle = m.idleTimeout
	}
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, inst := range m.instances {
		if !inst.active || now.Sub(inst.lastActivity) >= maxIdle {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.DestroyForSession(ctx, id)
	}
	if len(expired) > 0 {
		m.logger.Info("idle engine cleanup", "evicted", len(expired), "pool_size", m.Size())
	}
	return len(expired)
}

// EnforceLimit evicts least-recently-used instances until the pool is below
// its configured maximum. Admission performs the same enforcement inline.
func (m *Manager) EnforceLimit(ctx context.Context) {
	m.mu.Lock()
	evicted := m.evictOverCapacityLocked(len(m.instances))
	m.mu.Unlock()
	for _, inst := range evicted {
		m.teardown(ctx, inst)
	}
}

// evictOverCapacityLocked removes least-recently-used instances from the map
// until projected size fits the bound; the caller tears the removals down
// after releasing the lock. Ties on last-activity fall back to insertion
// order.
func (m *Manager) evictOverCapacityLocked(projected int) []*instance {
	var evicted []*instance
	for projected > m.maxEngines && len(m.instances) > 0 {
		var lru *instance
		for _, inst := range m.instances {
			if lru == nil ||
				inst.lastActivity.Before(lru.lastActivity) ||
				(inst.lastActivity.Equal(lru.lastActivity) && inst.seq < lru.seq) {
				lru = inst
			}
		}
		delete(m.instances, lru.sessionID)
		evicted = append(evicted, lru)
		projected--
	}
	return evicted
}

// teardown flushes durable state and releases engine resources. Errors are
// logged and swallowed so a stuck engine never blocks eviction of others.
func (m *Manager) teardown(ctx context.Context, inst *instance) {
	inst.active = false
	if m.syncer != nil {
		if err := m.syncer.FlushSession(ctx, inst.sessionID); err != nil {
			m.logger.Warn("failed to flush session state during teardown", "session_id", inst.sessionID, "error", err)
		}
	}
	inst.engine.ClearHistory()
	if err := inst.engine.Close(); err != nil {
		m.logger.Warn("engine close failed", "session_id", inst.sessionID, "error", err)
	}
	m.logLifecycle("destroy", inst.sessionID, m.Size())
}

// logLifecycle routes pool lifecycle actions through the structured helper
// when a SessionLogger is configured.
func (m *Manager) logLifecycle(action, sessionID string, poolSize int) {
	if sl, ok := m.logger.(*logging.SessionLogger); ok {
		sl.LogEngineLifecycle(action, sessionID, poolSize)
		return
	}
	m.logger.Info("engine "+action, "session_id", sessionID, "pool_size", poolSize)
}

// Size returns the current number of live instances.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// Sessions returns the session ids with a live instance.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown destroys all live instances. Used by the session manager on
// close.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, id := range m.Sessions() {
		m.DestroyForSession(ctx, id)
	}
}
