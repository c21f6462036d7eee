package core

import "time"

// Role identifies the author category of a message.
type Role string

const (
	// RoleUser marks content authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks content produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instruction or prompt content.
	RoleSystem Role = "system"
	// RoleTool marks tool/function output content.
	RoleTool Role = "tool"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// TokenUsage captures token statistics for a single model reply. Stored with
// the assistant message so session totals can be aggregated from storage
// without re-querying the engine.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is the durable record of one conversation entry. Owned exclusively
// by its session. Immutable after creation except for the soft-delete flag.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Usage     *TokenUsage       `json:"usage,omitempty"`
	Created   time.Time         `json:"created"`
	Deleted   bool              `json:"deleted,omitempty"`
}

// NewMessage creates a message with a fresh id and UTC timestamp.
func NewMessage(sessionID string, role Role, content string) *Message {
	return &Message{
		ID:        NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Created:   time.Now().UTC(),
	}
}

// Clone returns a deep copy (metadata map and usage included).
func (m *Message) Clone() *Message {
	clone := *m
	if m.Metadata != nil {
		clone.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	if m.Usage != nil {
		usage := *m.Usage
		clone.Usage = &usage
	}
	return &clone
}
