package sessionmesh

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/store"
)

func newTestMesh(t *testing.T, optFns ...func(o *Options)) *SessionMesh {
	t.Helper()

	configs := store.NewInMemoryConfigRepository()
	def := core.DefaultConfig()
	def.Provider = "mock"
	def.Model = "test-model"
	require.NoError(t, configs.Save(context.Background(), def))

	mesh := New(append([]func(o *Options){func(o *Options) {
		o.ConfigStore = configs
	}}, optFns...)...)
	t.Cleanup(func() { _ = mesh.Close(context.Background()) })
	return mesh
}

func TestSessionMesh_EndToEnd(t *testing.T) {
	ctx := context.Background()
	mesh := newTestMesh(t)

	sess, err := mesh.Sessions().CreateSession(ctx, "demo", "u1")
	require.NoError(t, err)

	reply, err := mesh.SendMessage(ctx, sess.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.NotEmpty(t, reply.Content)

	// engine went live on first use
	assert.Equal(t, 1, mesh.Engines().Size())

	// both turns persisted in order
	msgs, err := mesh.Sync().LoadHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)

	stats, err := mesh.Sessions().SessionStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.True(t, stats.EngineLive)
}

func TestSessionMesh_ConversationSurvivesEviction(t *testing.T) {
	ctx := context.Background()
	mesh := newTestMesh(t)

	sess, err := mesh.Sessions().CreateSession(ctx, "demo", "")
	require.NoError(t, err)

	_, err = mesh.SendMessage(ctx, sess.ID, "remember me")
	require.NoError(t, err)

	evicted := mesh.Engines().CleanupInactive(ctx, 0)
	require.Equal(t, 1, evicted)
	require.Zero(t, mesh.Engines().Size())

	// the next turn re-enters the session and restores history
	_, err = mesh.SendMessage(ctx, sess.ID, "still there?")
	require.NoError(t, err)

	msgs, err := mesh.Sync().LoadHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "remember me", msgs[0].Content)
	assert.Equal(t, "still there?", msgs[2].Content)
}

func TestSessionMesh_SendToArchivedSessionFails(t *testing.T) {
	ctx := context.Background()
	mesh := newTestMesh(t)

	sess, err := mesh.Sessions().CreateSession(ctx, "demo", "")
	require.NoError(t, err)
	require.NoError(t, mesh.Sessions().ArchiveSession(ctx, sess.ID))

	_, err = mesh.SendMessage(ctx, sess.ID, "hello")
	assert.ErrorIs(t, err, core.ErrSessionArchived)
}

func TestLoadOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionmesh.yaml")
	content := `
max_engines: 3
idle_timeout: 15m
cache_ttl: 1h
history_load_limit: 25
batch_size: 10
default_title: Scratchpad
cleanup_interval: 2m
auto_cleanup: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	optFn, err := LoadOptionsFile(path)
	require.NoError(t, err)

	opts := Options{DefaultTitle: "New Conversation"}
	optFn(&opts)

	assert.Equal(t, 3, opts.MaxEngines)
	assert.Equal(t, 15*time.Minute, opts.IdleTimeout)
	assert.Equal(t, time.Hour, opts.CacheTTL)
	assert.Equal(t, 25, opts.HistoryLoadLimit)
	assert.Equal(t, 10, opts.BatchSize)
	assert.Equal(t, "Scratchpad", opts.DefaultTitle)
	assert.Equal(t, 2*time.Minute, opts.CleanupInterval)
	assert.True(t, opts.AutoCleanup)
}

func TestLoadOptionsFile_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("idle_timeout: soon\n"), 0o600))

	_, err := LoadOptionsFile(path)
	assert.Error(t, err)
}

func TestLoadOptionsFile_Missing(t *testing.T) {
	_, err := LoadOptionsFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
