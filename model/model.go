package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/sessionmesh/core"
)

// Request captures the normalized model input produced by an engine: the
// system prompt plus the conversation history, the last entry being the user
// message awaiting a reply.
type Request struct {
	System      string               `json:"system,omitempty"`
	Messages    []core.EngineMessage `json:"messages"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

// Response is the final reply produced for a Request.
type Response struct {
	Content      string           `json:"content"`
	FinishReason string           `json:"finish_reason"` // "stop", "length", etc.
	Usage        *core.TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required by engines to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// It is safe for concurrent use.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	failures  []error // consumed one per Generate call, before canned responses
	calls     int
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailNext queues an error to be returned by the next Generate call.
func (m *MockModel) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// Calls returns how many times Generate has been invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model; replies to the last message in the request.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	input := req.Messages[len(req.Messages)-1].Content
	full := m.responses[input]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}
	return &Response{
		Content:      full,
		FinishReason: "stop",
		Usage: &core.TokenUsage{
			PromptTokens:     len(input),
			CompletionTokens: len(full),
			TotalTokens:      len(input) + len(full),
		},
	}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
