package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/model"
)

// DefaultHistoryLimit bounds the in-memory history of a single engine.
const DefaultHistoryLimit = 1000

// ChatOptions configures a ChatEngine.
type ChatOptions struct {
	// HistoryLimit caps the in-memory history; oldest entries are trimmed
	// first. Defaults to DefaultHistoryLimit.
	HistoryLimit int

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// ChatEngine is the stateful object that talks to a language model on behalf
// of one session. Safe for concurrent use. The config is a snapshot taken at
// initialization; later config edits require explicit re-initialization.
type ChatEngine struct {
	mu           sync.RWMutex
	model        model.Model
	cfg          core.Config
	history      []core.EngineMessage
	historyLimit int
	initialized  bool
	logger       logging.Logger
}

// Interface compliance (compile-time assertion)
var _ core.Engine = (*ChatEngine)(nil)

// NewChatEngine creates an uninitialized engine bound to a model.
func NewChatEngine(m model.Model, optFns ...func(o *ChatOptions)) *ChatEngine {
	opts := ChatOptions{
		HistoryLimit: DefaultHistoryLimit,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ChatEngine{
		model:        m,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
	}
}

// Initialize binds the engine to a config snapshot. It performs a cheap
// provider sanity check; network failures surface on the first SendMessage.
func (e *ChatEngine) Initialize(_ context.Context, cfg core.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return fmt.Errorf("no model bound to engine")
	}
	e.cfg = *cfg.Clone()
	e.initialized = true
	return nil
}

// SendMessage appends the user text to the in-memory history, generates a
// reply within the configured timeout/retry budget, appends the reply and
// returns it together with reported token usage.
func (e *ChatEngine) SendMessage(ctx context.Context, text string) (string, *core.TokenUsage, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return "", nil, fmt.Errorf("engine not initialized")
	}
	if text != "" {
		e.appendLocked(core.EngineMessage{
			ID:        core.NewID(),
			Role:      core.RoleUser,
			Content:   text,
			Timestamp: time.Now().UTC(),
		})
	}
	req := model.Request{
		System:      e.cfg.Prompt,
		Messages:    e.historyCopyLocked(),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}
	cfg := e.cfg
	e.mu.Unlock()

	resp, err := e.generate(ctx, cfg, req)
	if err != nil {
		return "", nil, err
	}

	e.mu.Lock()
	e.appendLocked(core.EngineMessage{
		ID:        core.NewID(),
		Role:      core.RoleAssistant,
		Content:   resp.Content,
		Timestamp: time.Now().UTC(),
	})
	e.mu.Unlock()

	return resp.Content, resp.Usage, nil
}

// generate runs the model call under the config timeout, retrying transient
// failures up to MaxRetries times.
func (e *ChatEngine) generate(ctx context.Context, cfg core.Config, req model.Request) (*model.Response, error) {
	attempts := cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		start := time.Now()
		resp, err := e.model.Generate(callCtx, req)
		cancel()
		if err == nil {
			if sl, ok := e.logger.(*logging.SessionLogger); ok {
				tokens := 0
				if resp.Usage != nil {
					tokens = resp.Usage.TotalTokens
				}
				sl.LogModelCall(e.model.Info().Name, tokens, time.Since(start), true, nil)
			}
			return resp, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", core.ErrEngineTimeout, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		e.logger.Warn("model call failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", attempts, lastErr)
}

// History returns a defensive copy of the in-memory history.
func (e *ChatEngine) History() []core.EngineMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.historyCopyLocked()
}

func (e *ChatEngine) historyCopyLocked() []core.EngineMessage {
	msgs := make([]core.EngineMessage, len(e.history))
	copy(msgs, e.history)
	return msgs
}

// SetHistory replaces the in-memory history, trimming oldest past the cap.
func (e *ChatEngine) SetHistory(msgs []core.EngineMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = make([]core.EngineMessage, len(msgs))
	copy(e.history, msgs)
	e.trimLocked()
}

// AppendHistory appends one message, trimming oldest past the cap.
func (e *ChatEngine) AppendHistory(msg core.EngineMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendLocked(msg)
}

func (e *ChatEngine) appendLocked(msg core.EngineMessage) {
	e.history = append(e.history, msg)
	e.trimLocked()
}

func (e *ChatEngine) trimLocked() {
	if e.historyLimit > 0 && len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

// ClearHistory resets the in-memory history to empty.
func (e *ChatEngine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

// State returns a snapshot for introspection and logging.
func (e *ChatEngine) State() core.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := core.EngineState{
		Initialized: e.initialized,
		HistoryLen:  len(e.history),
	}
	if e.model != nil {
		info := e.model.Info()
		state.Provider = info.Provider
		state.Model = info.Name
	}
	return state
}

// Close releases engine resources. Idempotent.
func (e *ChatEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
	e.initialized = false
	return nil
}
