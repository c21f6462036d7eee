package msgsync

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// Defaults for history loading and batching.
const (
	DefaultHistoryLoadLimit = 100
	DefaultBatchSize        = 50
)

// EngineLookup locates the live engine for a session, if any. Satisfied by
// *pool.Manager; bound after the pool is constructed (the wiring order is
// repositories, loader, synchronizer, pool, session manager).
type EngineLookup interface {
	GetEngine(sessionID string) (core.Engine, bool)
}

// Options configures a Synchronizer.
type Options struct {
	// HistoryLoadLimit bounds how many stored messages LoadHistory reads by
	// default.
	HistoryLoadLimit int

	// BatchSize chunks SaveBatch writes.
	BatchSize int

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Synchronizer reconciles engine in-memory state with the durable message
// log and keeps session statistics current. All methods are safe for
// concurrent use.
type Synchronizer struct {
	messages core.MessageRepository
	sessions core.SessionRepository
	engines  EngineLookup

	historyLoadLimit int
	batchSize        int
	logger           logging.Logger
}

// NewSynchronizer constructs a Synchronizer over the message and session
// repositories.
func NewSynchronizer(messages core.MessageRepository, sessions core.SessionRepository, optFns ...func(o *Options)) *Synchronizer {
	opts := Options{
		HistoryLoadLimit: DefaultHistoryLoadLimit,
		BatchSize:        DefaultBatchSize,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Synchronizer{
		messages:         messages,
		sessions:         sessions,
		historyLoadLimit: opts.HistoryLoadLimit,
		batchSize:        opts.BatchSize,
		logger:           opts.Logger,
	}
}

// BindEngines attaches the engine lookup once the pool exists. A nil lookup
// means no engine is ever considered live; persistence still works.
func (s *Synchronizer) BindEngines(lookup EngineLookup) { s.engines = lookup }

// SaveMessage persists a message, requiring the session to already exist.
// Missing ids and timestamps are filled in.
func (s *Synchronizer) SaveMessage(ctx context.Context, sessionID string, msg *core.Message) (*core.Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("cannot save message: %w", err)
	}
	stored := msg.Clone()
	stored.SessionID = sessionID
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	if stored.Created.IsZero() {
		stored.Created = time.Now().UTC()
	}
	if err := s.messages.Save(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// SaveBatch persists messages in chunks of the configured batch size,
// requiring the session to already exist.
func (s *Synchronizer) SaveBatch(ctx context.Context, sessionID string, msgs []*core.Message) ([]*core.Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("cannot save batch: %w", err)
	}
	stored := make([]*core.Message, len(msgs))
	for i, msg := range msgs {
		m := msg.Clone()
		m.SessionID = sessionID
		if m.ID == "" {
			m.ID = core.NewID()
		}
		if m.Created.IsZero() {
			m.Created = time.Now().UTC()
		}
		stored[i] = m
	}
	for start := 0; start < len(stored); start += s.batchSize {
		end := start + s.batchSize
		if end > len(stored) {
			end = len(stored)
		}
		if err := s.messages.SaveBatch(ctx, stored[start:end]); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// SyncMessage persists the message, appends the persisted form to the live
// engine's history and updates session statistics, in that order. A session
// without a live engine skips the append; history is rebuilt from storage on
// the next LoadHistory.
func (s *Synchronizer) SyncMessage(ctx context.Context, sessionID string, msg *core.Message) (*core.Message, error) {
	stored, err := s.SaveMessage(ctx, sessionID, msg)
	if err != nil {
		return nil, err
	}
	if eng, ok := s.liveEngine(sessionID); ok {
		eng.AppendHistory(ToEngineMessage(stored))
	}
	if err := s.TouchSession(ctx, sessionID, 1); err != nil {
		s.logger.Warn("failed to update session statistics", "session_id", sessionID, "error", err)
	}
	return stored, nil
}

// LoadHistory reads the most recent limit messages in creation order and
// replaces (not appends) the live engine's in-memory history. This is how a
// session resumes after its engine was evicted or the process restarted.
// limit <= 0 uses the configured default.
func (s *Synchronizer) LoadHistory(ctx context.Context, sessionID string, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		limit = s.historyLoadLimit
	}
	msgs, err := s.messages.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if eng, ok := s.liveEngine(sessionID); ok {
		history := make([]core.EngineMessage, len(msgs))
		for i, msg := range msgs {
			history[i] = ToEngineMessage(msg)
		}
		eng.SetHistory(history)
	}
	return msgs, nil
}

// ClearHistory deletes all stored messages for the session and resets the
// live engine's history. Used by explicit user-initiated resets, not by
// eviction.
func (s *Synchronizer) ClearHistory(ctx context.Context, sessionID string) error {
	if err := s.messages.DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	if eng, ok := s.liveEngine(sessionID); ok {
		eng.ClearHistory()
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.MessageCount = 0
	sess.Touch()
	return s.sessions.Update(ctx, sess)
}

// TouchSession bumps the session's message count by delta and refreshes its
// activity timestamps.
func (s *Synchronizer) TouchSession(ctx context.Context, sessionID string, delta int) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.MessageCount += delta
	sess.Touch()
	return s.sessions.Update(ctx, sess)
}

// FlushSession reconciles the session record with the stored message log.
// Called by the pool during teardown so statistics are durable regardless of
// which eviction trigger fired.
func (s *Synchronizer) FlushSession(ctx context.Context, sessionID string) error {
	count, err := s.messages.CountBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.MessageCount = count
	sess.Touch()
	return s.sessions.Update(ctx, sess)
}

// TokenTotals aggregates token usage from the stored message log.
func (s *Synchronizer) TokenTotals(ctx context.Context, sessionID string) (core.TokenUsage, error) {
	msgs, err := s.messages.ListBySession(ctx, sessionID, 0)
	if err != nil {
		return core.TokenUsage{}, err
	}
	var total core.TokenUsage
	for _, msg := range msgs {
		if msg.Usage == nil {
			continue
		}
		total.PromptTokens += msg.Usage.PromptTokens
		total.CompletionTokens += msg.Usage.CompletionTokens
		total.TotalTokens += msg.Usage.TotalTokens
	}
	return total, nil
}

func (s *Synchronizer) liveEngine(sessionID string) (core.Engine, bool) {
	if s.engines == nil {
		return nil, false
	}
	return s.engines.GetEngine(sessionID)
}
