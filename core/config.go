package core

import "time"

// Config is the named bundle of model/provider/prompt/parameter settings a
// session is bound to. At most one Config carries IsDefault per scope (the
// config loader enforces this when a new default is set). An empty UserID
// means the record is system-wide.
type Config struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	UserID      string        `json:"user_id,omitempty"`
	Provider    string        `json:"provider"` // "anthropic", "openai", "mock", ...
	Model       string        `json:"model"`
	APIKey      string        `json:"api_key,omitempty"`
	Prompt      string        `json:"prompt,omitempty"` // system prompt template
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  int           `json:"max_retries"`
	IsDefault   bool          `json:"is_default"`
	Created     time.Time     `json:"created"`
	Updated     time.Time     `json:"updated"`
}

// DefaultConfig returns the hard-coded safe configuration used when the
// store holds no record flagged as default. The loader persists it lazily on
// first resolution against an empty store.
func DefaultConfig() *Config {
	now := time.Now().UTC()
	return &Config{
		ID:          NewID(),
		Name:        "system-default",
		Provider:    "anthropic",
		Model:       "claude-3-5-sonnet-20241022",
		Prompt:      "You are a helpful assistant.",
		Temperature: 0.7,
		MaxTokens:   4096,
		Timeout:     60 * time.Second,
		MaxRetries:  2,
		IsDefault:   true,
		Created:     now,
		Updated:     now,
	}
}

// Clone returns a copy safe for independent mutation. Engine instances hold
// a snapshot taken at creation, never a live link.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
