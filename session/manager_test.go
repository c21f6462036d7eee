package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/config"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/engine"
	"github.com/hupe1980/sessionmesh/msgsync"
	"github.com/hupe1980/sessionmesh/pool"
	"github.com/hupe1980/sessionmesh/store"
)

type fixture struct {
	manager  *Manager
	sessions *store.InMemorySessionRepository
	messages *store.InMemoryMessageRepository
	configs  *store.InMemoryConfigRepository
	syncer   *msgsync.Synchronizer
	engines  *pool.Manager
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	ctx := context.Background()

	sessions := store.NewInMemorySessionRepository()
	messages := store.NewInMemoryMessageRepository()
	configs := store.NewInMemoryConfigRepository()

	// system default resolving to the mock provider
	def := core.DefaultConfig()
	def.Provider = "mock"
	def.Model = "test-model"
	require.NoError(t, configs.Save(ctx, def))

	loader := config.NewLoader(configs, func(o *config.Options) { o.SweepInterval = 0 })
	syncer := msgsync.NewSynchronizer(messages, sessions)
	engines := pool.NewManager(engine.NewFactory(), func(o *pool.Options) { o.Syncer = syncer })
	syncer.BindEngines(engines)

	m := NewManager(sessions, loader, syncer, engines, optFns...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	return &fixture{
		manager:  m,
		sessions: sessions,
		messages: messages,
		configs:  configs,
		syncer:   syncer,
		engines:  engines,
	}
}

func TestManager_CreateSessionDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "", "u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, sess.Title)
	assert.Equal(t, core.SessionActive, sess.Status)
	assert.Equal(t, "u1", sess.UserID)

	// creation does not construct an engine
	assert.Zero(t, f.engines.Size())
}

func TestManager_EnterSessionBuildsEngineAndRestoresHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)

	// messages persisted while no engine was live
	for _, content := range []string{"first", "second"} {
		_, err := f.syncer.SyncMessage(ctx, sess.ID, core.NewMessage(sess.ID, core.RoleUser, content))
		require.NoError(t, err)
	}

	entered, eng, err := f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, entered.ID)
	assert.Equal(t, 1, f.engines.Size())

	// the returned engine is the pooled instance
	require.NotNil(t, eng)
	pooled, ok := f.engines.GetEngine(sess.ID)
	require.True(t, ok)
	assert.Same(t, pooled, eng)

	history := eng.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)

	current, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, current.ID)
}

func TestManager_EnterSessionEmptyIDPicksMostRecent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	older, err := f.manager.CreateSession(ctx, "older", "")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	newer, err := f.manager.CreateSession(ctx, "newer", "")
	require.NoError(t, err)

	entered, _, err := f.manager.EnterSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, entered.ID)
	assert.NotEqual(t, older.ID, entered.ID)
}

func TestManager_EnterSessionNoSessions(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.manager.EnterSession(context.Background(), "")
	assert.True(t, errors.Is(err, core.ErrSessionNotFound))
}

func TestManager_EnterReactivatesInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.CloseSession(ctx, sess.ID))

	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, core.SessionInactive, stored.Status)

	entered, _, err := f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, entered.Status)
	assert.Equal(t, 1, f.engines.Size())
}

func TestManager_EnterArchivedFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	require.NoError(t, f.manager.ArchiveSession(ctx, sess.ID))

	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, core.ErrSessionArchived))
}

func TestManager_SwitchSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s1, err := f.manager.CreateSession(ctx, "one", "")
	require.NoError(t, err)
	s2, err := f.manager.CreateSession(ctx, "two", "")
	require.NoError(t, err)

	_, _, err = f.manager.EnterSession(ctx, s1.ID)
	require.NoError(t, err)

	switched, eng, err := f.manager.SwitchSession(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, switched.ID)
	require.NotNil(t, eng)

	// the previous engine stays pooled for re-entry
	assert.Equal(t, 2, f.engines.Size())

	current, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, current.ID)
}

func TestManager_SwitchToMissingSessionKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s1, err := f.manager.CreateSession(ctx, "one", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, s1.ID)
	require.NoError(t, err)

	_, _, err = f.manager.SwitchSession(ctx, "no-such-session")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSessionNotFound))

	current, err := f.manager.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, current.ID)
}

func TestManager_CloseSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.engines.Size())

	require.NoError(t, f.manager.CloseSession(ctx, sess.ID))

	assert.Zero(t, f.engines.Size())
	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionInactive, stored.Status)

	_, err = f.manager.CurrentSession(ctx)
	assert.True(t, errors.Is(err, core.ErrSessionNotFound))

	// closing an inactive session is a no-op
	assert.NoError(t, f.manager.CloseSession(ctx, sess.ID))
}

// Teardown's flush recounts MessageCount from storage; the status write that
// follows must not revert it to the pre-teardown snapshot.
func TestManager_CloseKeepsFlushedStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)

	// SaveBatch persists without bumping session statistics
	batch := []*core.Message{
		core.NewMessage(sess.ID, core.RoleUser, "a"),
		core.NewMessage(sess.ID, core.RoleUser, "b"),
	}
	_, err = f.syncer.SaveBatch(ctx, sess.ID, batch)
	require.NoError(t, err)

	require.NoError(t, f.manager.CloseSession(ctx, sess.ID))

	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionInactive, stored.Status)
	assert.Equal(t, 2, stored.MessageCount)
}

func TestManager_ArchiveKeepsFlushedStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)

	batch := []*core.Message{
		core.NewMessage(sess.ID, core.RoleUser, "a"),
		core.NewMessage(sess.ID, core.RoleUser, "b"),
		core.NewMessage(sess.ID, core.RoleUser, "c"),
	}
	_, err = f.syncer.SaveBatch(ctx, sess.ID, batch)
	require.NoError(t, err)

	require.NoError(t, f.manager.ArchiveSession(ctx, sess.ID))

	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionArchived, stored.Status)
	assert.Equal(t, 3, stored.MessageCount)
}

func TestManager_ArchiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// archiving a session that never had an engine works
	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	require.NoError(t, f.manager.ArchiveSession(ctx, sess.ID))

	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionArchived, stored.Status)

	// archived is terminal
	err = f.manager.ArchiveSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, core.ErrInvalidTransition))
}

func TestManager_EventListeners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var order []string
	f.manager.AddEventListener(func(ev core.SessionEvent) {
		order = append(order, "a:"+string(ev.Type))
	})
	second := f.manager.AddEventListener(func(ev core.SessionEvent) {
		order = append(order, "b:"+string(ev.Type))
	})

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:created", "b:created"}, order)

	f.manager.RemoveEventListener(second)
	order = nil

	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:entered"}, order)
}

func TestManager_PanickingListenerIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var reached bool
	f.manager.AddEventListener(func(core.SessionEvent) { panic("boom") })
	f.manager.AddEventListener(func(core.SessionEvent) { reached = true })

	_, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	assert.True(t, reached, "listener after the panicking one must still run")
}

func TestManager_SessionStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)

	m := core.NewMessage(sess.ID, core.RoleAssistant, "reply")
	m.Usage = &core.TokenUsage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}
	_, err = f.syncer.SyncMessage(ctx, sess.ID, m)
	require.NoError(t, err)

	stats, err := f.manager.SessionStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stats.SessionID)
	assert.Equal(t, 1, stats.MessageCount)
	assert.Equal(t, 10, stats.Usage.TotalTokens)
	assert.True(t, stats.EngineLive)
	assert.Equal(t, "mock", stats.Provider)
	assert.Equal(t, "test-model", stats.Model)
	assert.GreaterOrEqual(t, stats.Duration, time.Duration(0))
}

// Eviction destroys the live engine but never the conversation: persisted
// history survives and is restored on re-entry.
func TestManager_HistorySurvivesIdleEviction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.manager.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)

	_, err = f.syncer.SyncMessage(ctx, sess.ID, core.NewMessage(sess.ID, core.RoleUser, "hello"))
	require.NoError(t, err)
	_, err = f.syncer.SyncMessage(ctx, sess.ID, core.NewMessage(sess.ID, core.RoleAssistant, "hi there"))
	require.NoError(t, err)
	require.Equal(t, 1, f.engines.Size())

	// idle timeout of zero evicts everything
	evicted := f.engines.CleanupInactive(ctx, 0)
	require.Equal(t, 1, evicted)
	require.Zero(t, f.engines.Size())
	_, ok := f.engines.GetEngine(sess.ID)
	require.False(t, ok)

	// storage still has the conversation
	msgs, err := f.syncer.LoadHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)

	// re-entry rebuilds the engine with the persisted history
	_, eng, err := f.manager.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, eng)
	assert.Len(t, eng.History(), 2)
}

func TestManager_AutoCleanupEvictsIdleEngines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// replace the pool with one whose idle timeout is immediate
	f.engines = pool.NewManager(engine.NewFactory(), func(o *pool.Options) {
		o.IdleTimeout = time.Nanosecond
		o.Syncer = f.syncer
	})
	f.syncer.BindEngines(f.engines)
	m := NewManager(f.sessions, config.NewLoader(f.configs, func(o *config.Options) { o.SweepInterval = 0 }), f.syncer, f.engines)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	sess, err := m.CreateSession(ctx, "chat", "")
	require.NoError(t, err)
	_, _, err = m.EnterSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.engines.Size())

	m.StartAutoCleanup(5 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for f.engines.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Zero(t, f.engines.Size())
}
