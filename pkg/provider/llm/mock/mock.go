// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{Responses: []string{`{"intents":[]}`}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxact/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider. Responses are returned in
// order; once exhausted the last one repeats.
type Provider struct {
	mu sync.Mutex

	// Responses holds the reply contents.
	Responses []string

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// Calls records every request in order.
	Calls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete records req and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var content string
	switch n := len(p.Calls); {
	case len(p.Responses) == 0:
	case n <= len(p.Responses):
		content = p.Responses[n-1]
	default:
		content = p.Responses[len(p.Responses)-1]
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
