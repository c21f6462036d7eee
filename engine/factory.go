package engine

import (
	"context"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/model"
	"github.com/hupe1980/sessionmesh/model/anthropic"
	"github.com/hupe1980/sessionmesh/model/openai"
)

// ModelBuilder translates a config snapshot into a concrete model client.
type ModelBuilder func(cfg core.Config) (model.Model, error)

// FactoryOptions configures NewFactory.
type FactoryOptions struct {
	// HistoryLimit caps each engine's in-memory history.
	HistoryLimit int

	// Builders maps provider selectors to model constructors. Entries here
	// override (or extend) the built-in anthropic/openai/mock builders.
	Builders map[string]ModelBuilder

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// NewFactory returns a core.EngineFactory producing ChatEngines. The factory
// resolves the config's provider selector to a model builder; unknown
// providers fail with a ConstructionError before anything is admitted to the
// pool.
func NewFactory(optFns ...func(o *FactoryOptions)) core.EngineFactory {
	opts := FactoryOptions{
		HistoryLimit: DefaultHistoryLimit,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	builders := map[string]ModelBuilder{
		"anthropic": buildAnthropic,
		"openai":    buildOpenAI,
		"mock": func(cfg core.Config) (model.Model, error) {
			return model.NewMockModel(cfg.Model), nil
		},
	}
	for name, b := range opts.Builders {
		builders[name] = b
	}

	return func(_ context.Context, cfg core.Config) (core.Engine, error) {
		build, ok := builders[cfg.Provider]
		if !ok {
			return nil, &core.ConstructionError{
				Provider: cfg.Provider,
				Err:      core.ErrConfigNotFound,
			}
		}
		m, err := build(cfg)
		if err != nil {
			return nil, &core.ConstructionError{Provider: cfg.Provider, Err: err}
		}
		return NewChatEngine(m, func(o *ChatOptions) {
			o.HistoryLimit = opts.HistoryLimit
			o.Logger = opts.Logger
		}), nil
	}
}

func buildAnthropic(cfg core.Config) (model.Model, error) {
	return anthropic.NewModel(func(o *anthropic.Options) {
		if cfg.Model != "" {
			o.Model = cfg.Model
		}
		o.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			o.MaxTokens = int64(cfg.MaxTokens)
		}
		o.APIKey = cfg.APIKey
	}), nil
}

func buildOpenAI(cfg core.Config) (model.Model, error) {
	return openai.NewModel(func(o *openai.Options) {
		if cfg.Model != "" {
			o.Model = cfg.Model
		}
		o.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
		}
		o.APIKey = cfg.APIKey
	}), nil
}
