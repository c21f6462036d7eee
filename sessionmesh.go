// Package sessionmesh provides a high-level façade over the session lifecycle
// subsystem (configuration resolution, engine pooling and message
// synchronization). Most applications interact with this package by:
//  1. Creating a SessionMesh via New() (optionally overriding the default
//     in-memory stores with durable implementations)
//  2. Creating and entering sessions through Sessions()
//  3. Exchanging messages with SendMessage
//
// The façade wires the subsystem in dependency order: repositories, config
// loader, message synchronizer, engine pool, session manager. All defaults
// are safe for local development and testing; production deployments
// typically supply the SQLite store and a structured logger.
package sessionmesh

import (
	"context"
	"time"

	"github.com/hupe1980/sessionmesh/config"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/engine"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/msgsync"
	"github.com/hupe1980/sessionmesh/pool"
	"github.com/hupe1980/sessionmesh/session"
	"github.com/hupe1980/sessionmesh/store"
)

// Options configures the SessionMesh instance.
type Options struct {
	// Stores (default to in-memory implementations if not provided).
	SessionStore core.SessionRepository
	MessageStore core.MessageRepository
	ConfigStore  core.ConfigRepository

	// EngineFactory constructs engines from resolved configs. Defaults to the
	// built-in factory with the anthropic, openai and mock providers.
	EngineFactory core.EngineFactory

	// MaxEngines bounds the number of simultaneously live engines.
	MaxEngines int

	// IdleTimeout is the threshold for idle engine eviction.
	IdleTimeout time.Duration

	// CacheTTL bounds how long resolved configs are served from cache.
	CacheTTL time.Duration

	// HistoryLoadLimit bounds how much history is restored on session entry.
	HistoryLoadLimit int

	// BatchSize chunks bulk message writes.
	BatchSize int

	// DefaultTitle names sessions created without a title.
	DefaultTitle string

	// CleanupInterval paces the periodic idle-engine sweep when AutoCleanup
	// is enabled.
	CleanupInterval time.Duration

	// AutoCleanup starts the idle sweep at construction.
	AutoCleanup bool

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// SessionMesh is the high-level façade aggregating the loader, synchronizer,
// pool and session manager.
type SessionMesh struct {
	opts     Options
	loader   *config.Loader
	syncer   *msgsync.Synchronizer
	engines  *pool.Manager
	sessions *session.Manager
}

// New creates a SessionMesh with optional overrides. Any unset store is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *SessionMesh {
	opts := Options{
		SessionStore:     store.NewInMemorySessionRepository(),
		MessageStore:     store.NewInMemoryMessageRepository(),
		ConfigStore:      store.NewInMemoryConfigRepository(),
		MaxEngines:       pool.DefaultMaxInstances,
		IdleTimeout:      pool.DefaultIdleTimeout,
		CacheTTL:         config.DefaultCacheTTL,
		HistoryLoadLimit: msgsync.DefaultHistoryLoadLimit,
		BatchSize:        msgsync.DefaultBatchSize,
		DefaultTitle:     session.DefaultTitle,
		CleanupInterval:  session.DefaultCleanupInterval,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.EngineFactory == nil {
		opts.EngineFactory = engine.NewFactory(func(o *engine.FactoryOptions) {
			o.Logger = opts.Logger
		})
	}

	loader := config.NewLoader(opts.ConfigStore, func(o *config.Options) {
		o.CacheTTL = opts.CacheTTL
		o.Logger = opts.Logger
	})
	syncer := msgsync.NewSynchronizer(opts.MessageStore, opts.SessionStore, func(o *msgsync.Options) {
		o.HistoryLoadLimit = opts.HistoryLoadLimit
		o.BatchSize = opts.BatchSize
		o.Logger = opts.Logger
	})
	engines := pool.NewManager(opts.EngineFactory, func(o *pool.Options) {
		o.MaxInstances = opts.MaxEngines
		o.IdleTimeout = opts.IdleTimeout
		o.Syncer = syncer
		o.Logger = opts.Logger
	})
	syncer.BindEngines(engines)
	sessions := session.NewManager(opts.SessionStore, loader, syncer, engines, func(o *session.Options) {
		o.DefaultTitle = opts.DefaultTitle
		o.HistoryLoadLimit = opts.HistoryLoadLimit
		o.Logger = opts.Logger
	})
	if opts.AutoCleanup {
		sessions.StartAutoCleanup(opts.CleanupInterval)
	}

	return &SessionMesh{
		opts:     opts,
		loader:   loader,
		syncer:   syncer,
		engines:  engines,
		sessions: sessions,
	}
}

// Sessions exposes session lifecycle operations.
func (m *SessionMesh) Sessions() *session.Manager { return m.sessions }

// Engines exposes the engine pool.
func (m *SessionMesh) Engines() *pool.Manager { return m.engines }

// Sync exposes the message synchronizer.
func (m *SessionMesh) Sync() *msgsync.Synchronizer { return m.syncer }

// Configs exposes the config loader.
func (m *SessionMesh) Configs() *config.Loader { return m.loader }

// SendMessage exchanges one turn with the session's engine: the user message
// is persisted, the engine generates a reply and the reply is persisted with
// its token usage. The session is entered first if it has no live engine.
func (m *SessionMesh) SendMessage(ctx context.Context, sessionID, text string) (*core.Message, error) {
	eng, ok := m.engines.GetEngine(sessionID)
	if !ok {
		var err error
		_, eng, err = m.sessions.EnterSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	if _, err := m.syncer.SaveMessage(ctx, sessionID, core.NewMessage(sessionID, core.RoleUser, text)); err != nil {
		return nil, err
	}

	reply, usage, err := eng.SendMessage(ctx, text)
	if err != nil {
		return nil, err
	}

	assistant := core.NewMessage(sessionID, core.RoleAssistant, reply)
	assistant.Usage = usage
	stored, err := m.syncer.SaveMessage(ctx, sessionID, assistant)
	if err != nil {
		return nil, err
	}

	// one user turn plus one assistant turn
	if err := m.syncer.TouchSession(ctx, sessionID, 2); err != nil {
		m.opts.Logger.Warn("failed to update session statistics", "session_id", sessionID, "error", err)
	}
	return stored, nil
}

// Close tears down the subsystem: the cleanup timer stops, live engines are
// flushed and destroyed, and the config loader is released.
func (m *SessionMesh) Close(ctx context.Context) error {
	return m.sessions.Close(ctx)
}
