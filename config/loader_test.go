package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/store"
)

func newLoader(t *testing.T, optFns ...func(o *Options)) (*Loader, *store.InMemoryConfigRepository) {
	t.Helper()
	repo := store.NewInMemoryConfigRepository()
	l := NewLoader(repo, optFns...)
	t.Cleanup(l.Close)
	return l, repo
}

func TestLoader_FallbackChainCreatesSystemDefaultOnce(t *testing.T) {
	ctx := context.Background()
	l, repo := newLoader(t)

	sess := core.NewSession("t", "")
	cfg, err := l.Resolve(ctx, sess)
	require.NoError(t, err)
	assert.True(t, cfg.IsDefault)

	// idempotent: a second resolution returns the same record
	again, err := l.Resolve(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, again.ID)

	stored, err := repo.FindSystemDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, stored.ID)
}

func TestLoader_ResolvesSessionConfigFirst(t *testing.T) {
	ctx := context.Background()
	l, repo := newLoader(t)

	own := core.DefaultConfig()
	own.IsDefault = false
	own.Name = "session-specific"
	require.NoError(t, repo.Save(ctx, own))

	sess := core.NewSession("t", "u1")
	sess.ConfigID = own.ID

	cfg, err := l.Resolve(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, own.ID, cfg.ID)
}

func TestLoader_ResolvesUserDefaultBeforeSystem(t *testing.T) {
	ctx := context.Background()
	l, repo := newLoader(t)

	sys := core.DefaultConfig()
	require.NoError(t, repo.Save(ctx, sys))
	userCfg := core.DefaultConfig()
	userCfg.ID = core.NewID()
	userCfg.UserID = "u1"
	require.NoError(t, repo.Save(ctx, userCfg))

	cfg, err := l.Resolve(ctx, core.NewSession("t", "u1"))
	require.NoError(t, err)
	assert.Equal(t, userCfg.ID, cfg.ID)

	cfg, err = l.Resolve(ctx, core.NewSession("t", "other"))
	require.NoError(t, err)
	assert.Equal(t, sys.ID, cfg.ID)
}

func TestLoader_MissingSessionConfigDegradesToDefault(t *testing.T) {
	ctx := context.Background()
	l, _ := newLoader(t)

	sess := core.NewSession("t", "")
	sess.ConfigID = "gone"
	cfg, err := l.Resolve(ctx, sess)
	require.NoError(t, err)
	assert.True(t, cfg.IsDefault)
}

func TestLoader_CacheExpires(t *testing.T) {
	ctx := context.Background()
	l, repo := newLoader(t, func(o *Options) {
		o.CacheTTL = 10 * time.Millisecond
		o.SweepInterval = 0
	})

	own := core.DefaultConfig()
	own.IsDefault = false
	require.NoError(t, repo.Save(ctx, own))
	sess := core.NewSession("t", "")
	sess.ConfigID = own.ID

	cfg, err := l.Resolve(ctx, sess)
	require.NoError(t, err)

	// Mutate the stored record; cached copy is served until the TTL lapses.
	own.Name = "renamed"
	require.NoError(t, repo.Update(ctx, own))
	cached, _ := l.Resolve(ctx, sess)
	assert.Equal(t, cfg.Name, cached.Name)

	time.Sleep(20 * time.Millisecond)
	fresh, err := l.Resolve(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "renamed", fresh.Name)
}

func TestLoader_Validate(t *testing.T) {
	l, _ := newLoader(t)

	valid := core.DefaultConfig()
	assert.NoError(t, l.Validate(valid))

	cases := []struct {
		name   string
		mutate func(c *core.Config)
	}{
		{"missing provider", func(c *core.Config) { c.Provider = "" }},
		{"missing model", func(c *core.Config) { c.Model = "" }},
		{"temperature too high", func(c *core.Config) { c.Temperature = 2.5 }},
		{"temperature negative", func(c *core.Config) { c.Temperature = -0.1 }},
		{"zero token limit", func(c *core.Config) { c.MaxTokens = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tc.mutate(cfg)
			err := l.Validate(cfg)
			var verr *core.ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}
}

func TestLoader_SetDefaultUnsetsPrevious(t *testing.T) {
	ctx := context.Background()
	l, repo := newLoader(t)

	first, err := l.SystemDefault(ctx)
	require.NoError(t, err)

	second := core.DefaultConfig()
	second.ID = core.NewID()
	second.IsDefault = false
	second.Name = "replacement"
	require.NoError(t, repo.Save(ctx, second))

	require.NoError(t, l.SetDefault(ctx, second))

	current, err := repo.FindSystemDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	old, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault, "previous default must be unset")
}
