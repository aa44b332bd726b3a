// Package llm defines the Provider interface for large language model
// backends. Voxact uses an LLM for intent recognition only, so the surface is
// a single non-streaming completion with an optional JSON-only reply mode.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrServiceUnavailable marks failures caused by the backend being
// unreachable, rate limited or out of quota.
var ErrServiceUnavailable = errors.New("llm: service unavailable")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to answer.
type CompletionRequest struct {
	// SystemPrompt is injected before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. Must not be empty.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int

	// JSON asks the backend to reply with a single JSON document. Backends
	// without a native JSON mode rely on the prompt alone.
	JSON bool
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
