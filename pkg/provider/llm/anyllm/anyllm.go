// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving intent recognition access to every vendor that library speaks.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
//
// Without an API key option each backend falls back to its usual environment
// variable (ANTHROPIC_API_KEY, GROQ_API_KEY, ...).
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voxact/pkg/provider/llm"
)

type factory func(...anyllmlib.Option) (anyllmlib.Provider, error)

func backend[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) factory {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var backends = map[string]factory{
	"anthropic": backend(anthropic.New),
	"deepseek":  backend(deepseek.New),
	"gemini":    backend(gemini.New),
	"groq":      backend(groq.New),
	"llamacpp":  backend(llamacpp.New),
	"llamafile": backend(llamafile.New),
	"mistral":   backend(mistral.New),
	"ollama":    backend(ollama.New),
	"openai":    backend(anyllmoai.New),
}

// Backends returns the supported vendor names in sorted order.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider is an [llm.Provider] over one any-llm-go backend and model.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New returns a Provider for vendor (see [Backends]) and model. opts are
// passed to the backend unchanged.
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	mk, ok := backends[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", vendor, strings.Join(Backends(), ", "))
	}
	b, err := mk(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", vendor, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete implements llm.Provider. JSON mode is expressed through the
// system prompt because not every backend has a native switch for it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("anyllm: completion: %w", err)
		}
		return nil, fmt.Errorf("anyllm: completion: %w: %w", llm.ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// jsonInstruction is appended to the system prompt in JSON mode.
const jsonInstruction = "Reply with a single JSON document and nothing else. Do not wrap it in markdown."

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	system := req.SystemPrompt
	if req.JSON {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}
	if system != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
