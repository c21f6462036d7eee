package testutil

import (
	"time"

	"github.com/hupe1980/sessionmesh/core"
)

// SessionBuilder constructs sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("Chat").User("u1").Status(core.SessionInactive).Build()
type SessionBuilder struct {
	title    string
	userID   string
	configID string
	status   core.SessionStatus
	count    int
}

// NewSessionBuilder creates a builder for a session with the given title.
func NewSessionBuilder(title string) *SessionBuilder {
	return &SessionBuilder{title: title, status: core.SessionActive}
}

// User sets the owning user id (chainable).
func (b *SessionBuilder) User(userID string) *SessionBuilder {
	b.userID = userID
	return b
}

// Config pins the session to a config id (chainable).
func (b *SessionBuilder) Config(configID string) *SessionBuilder {
	b.configID = configID
	return b
}

// Status overrides the initial status (chainable).
func (b *SessionBuilder) Status(status core.SessionStatus) *SessionBuilder {
	b.status = status
	return b
}

// Messages sets the bookkeeping message count (chainable).
func (b *SessionBuilder) Messages(count int) *SessionBuilder {
	b.count = count
	return b
}

// Build returns the assembled *core.Session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.title, b.userID)
	s.ConfigID = b.configID
	s.Status = b.status
	s.MessageCount = b.count
	return s
}

// MessageBuilder constructs messages with fluent chaining for tests.
type MessageBuilder struct {
	sessionID string
	role      core.Role
	content   string
	usage     *core.TokenUsage
	metadata  map[string]string
	created   time.Time
}

// NewMessageBuilder creates a builder for a message in the given session.
func NewMessageBuilder(sessionID string, role core.Role, content string) *MessageBuilder {
	return &MessageBuilder{sessionID: sessionID, role: role, content: content}
}

// Usage attaches token usage (chainable).
func (b *MessageBuilder) Usage(prompt, completion int) *MessageBuilder {
	b.usage = &core.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	return b
}

// Meta sets a metadata key/value pair (chainable).
func (b *MessageBuilder) Meta(key, val string) *MessageBuilder {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[key] = val
	return b
}

// CreatedAt pins the creation timestamp, useful for ordering tests
// (chainable).
func (b *MessageBuilder) CreatedAt(t time.Time) *MessageBuilder {
	b.created = t
	return b
}

// Build returns the assembled *core.Message.
func (b *MessageBuilder) Build() *core.Message {
	m := core.NewMessage(b.sessionID, b.role, b.content)
	m.Usage = b.usage
	m.Metadata = b.metadata
	if !b.created.IsZero() {
		m.Created = b.created
	}
	return m
}

// ConfigBuilder constructs configs with fluent chaining for tests.
type ConfigBuilder struct {
	provider  string
	model     string
	userID    string
	isDefault bool
}

// NewConfigBuilder creates a builder for a config with the given provider and
// model.
func NewConfigBuilder(provider, model string) *ConfigBuilder {
	return &ConfigBuilder{provider: provider, model: model}
}

// User scopes the config to a user (chainable).
func (b *ConfigBuilder) User(userID string) *ConfigBuilder {
	b.userID = userID
	return b
}

// Default marks the config as the default for its scope (chainable).
func (b *ConfigBuilder) Default() *ConfigBuilder {
	b.isDefault = true
	return b
}

// Build returns the assembled *core.Config.
func (b *ConfigBuilder) Build() *core.Config {
	cfg := core.DefaultConfig()
	cfg.ID = core.NewID()
	cfg.Provider = b.provider
	cfg.Model = b.model
	cfg.UserID = b.userID
	cfg.IsDefault = b.isDefault
	return cfg
}
