package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// Defaults for the loader cache and sweep.
const (
	DefaultCacheTTL      = 30 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
)

// Options configures a Loader.
type Options struct {
	// CacheTTL bounds how long a resolved config is served from cache.
	CacheTTL time.Duration

	// SweepInterval controls the periodic purge of expired cache entries.
	// Zero disables the sweeper; expired entries are still purged lazily.
	SweepInterval time.Duration

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Loader resolves the configuration that applies to a session and caches
// resolved records by id with a TTL. Lookup and storage errors during
// resolution degrade to the system default rather than propagating; only a
// failure to create the system default itself is fatal.
type Loader struct {
	repo   core.ConfigRepository
	ttl    time.Duration
	logger logging.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	sweepStop chan struct{}
	sweepOnce sync.Once
}

type cacheEntry struct {
	cfg       *core.Config
	expiresAt time.Time
}

// NewLoader constructs a Loader over a config repository.
func NewLoader(repo core.ConfigRepository, optFns ...func(o *Options)) *Loader {
	opts := Options{
		CacheTTL:      DefaultCacheTTL,
		SweepInterval: DefaultSweepInterval,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	l := &Loader{
		repo:      repo,
		ttl:       opts.CacheTTL,
		logger:    opts.Logger,
		cache:     make(map[string]cacheEntry),
		sweepStop: make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go l.sweep(opts.SweepInterval)
	}
	return l
}

// Resolve returns the config governing the session. Resolution order:
// the session's config id, the per-user default, then the system default,
// which is created with hard-coded safe values if the store has none.
func (l *Loader) Resolve(ctx context.Context, sess *core.Session) (*core.Config, error) {
	if sess != nil && sess.ConfigID != "" {
		if cfg := l.fromCache(sess.ConfigID); cfg != nil {
			return cfg, nil
		}
		cfg, err := l.repo.Get(ctx, sess.ConfigID)
		if err == nil {
			l.toCache(cfg)
			return cfg.Clone(), nil
		}
		l.logger.Warn("session config lookup failed, falling back", "config_id", sess.ConfigID, "error", err)
	}

	if sess != nil && sess.UserID != "" {
		cfg, err := l.repo.FindUserDefault(ctx, sess.UserID)
		if err == nil {
			l.toCache(cfg)
			return cfg.Clone(), nil
		}
	}

	return l.SystemDefault(ctx)
}

// SystemDefault returns the system-wide default config, creating it lazily
// when the store holds none. Creation failure is fatal to initialization.
func (l *Loader) SystemDefault(ctx context.Context) (*core.Config, error) {
	cfg, err := l.repo.FindSystemDefault(ctx)
	if err == nil {
		l.toCache(cfg)
		return cfg.Clone(), nil
	}

	cfg = core.DefaultConfig()
	if err := l.repo.Save(ctx, cfg); err != nil {
		// Another caller may have won the creation race; re-read once.
		if existing, rerr := l.repo.FindSystemDefault(ctx); rerr == nil {
			l.toCache(existing)
			return existing.Clone(), nil
		}
		return nil, fmt.Errorf("failed to create system default config: %w", err)
	}
	l.logger.Info("created system default config", "config_id", cfg.ID)
	l.toCache(cfg)
	return cfg.Clone(), nil
}

// Validate rejects configs that cannot safely reach engine construction.
func (l *Loader) Validate(cfg *core.Config) error {
	if cfg == nil {
		return &core.ValidationError{Field: "config", Reason: "is nil"}
	}
	if cfg.Provider == "" {
		return &core.ValidationError{Field: "provider", Reason: "is required"}
	}
	if cfg.Model == "" {
		return &core.ValidationError{Field: "model", Reason: "is required"}
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return &core.ValidationError{Field: "temperature", Reason: "must be within [0,2]"}
	}
	if cfg.MaxTokens <= 0 {
		return &core.ValidationError{Field: "max_tokens", Reason: "must be positive"}
	}
	return nil
}

// SetDefault flags cfg as the default for its scope (user or system-wide),
// unsetting any previous default in the same operation so at most one
// default exists per scope.
func (l *Loader) SetDefault(ctx context.Context, cfg *core.Config) error {
	var prev *core.Config
	var err error
	if cfg.UserID != "" {
		prev, err = l.repo.FindUserDefault(ctx, cfg.UserID)
	} else {
		prev, err = l.repo.FindSystemDefault(ctx)
	}
	if err == nil && prev.ID != cfg.ID {
		prev.IsDefault = false
		prev.Updated = time.Now().UTC()
		if err := l.repo.Update(ctx, prev); err != nil {
			return fmt.Errorf("failed to unset previous default: %w", err)
		}
		l.invalidate(prev.ID)
	}

	cfg.IsDefault = true
	cfg.Updated = time.Now().UTC()
	if err := l.repo.Update(ctx, cfg); err != nil {
		return fmt.Errorf("failed to set default config: %w", err)
	}
	l.toCache(cfg)
	return nil
}

// Invalidate drops a cached entry, forcing the next Resolve to hit storage.
func (l *Loader) Invalidate(id string) { l.invalidate(id) }

// Close stops the periodic cache sweeper.
func (l *Loader) Close() {
	l.sweepOnce.Do(func() { close(l.sweepStop) })
}

func (l *Loader) fromCache(id string) *core.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.cache[id]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(l.cache, id)
		return nil
	}
	return entry.cfg.Clone()
}

func (l *Loader) toCache(cfg *core.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[cfg.ID] = cacheEntry{cfg: cfg.Clone(), expiresAt: time.Now().Add(l.ttl)}
}

func (l *Loader) invalidate(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, id)
}

func (l *Loader) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.sweepStop:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for id, entry := range l.cache {
				if now.After(entry.expiresAt) {
					delete(l.cache, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
