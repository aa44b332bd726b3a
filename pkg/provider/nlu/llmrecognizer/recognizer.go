// Package llmrecognizer implements nlu.Recognizer on top of any llm.Provider.
//
// The model receives a system prompt listing the command vocabulary and the
// JSON schema of the expected reply, and must answer with a single JSON
// document:
//
//	{"intents":[{"kind":"fill","confidence":0.9,
//	  "entities":{"target":{"english":"name","user_language":"Name"},"value":"Alex"}}]}
//
// UI-facing roles (target, group, targetGroup, contextKey, contextValue) are
// requested as bilingual objects so labels in either language can match;
// every other role is a plain string.
package llmrecognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxact/pkg/provider/llm"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/types"
)

// DefaultLanguage is used when no language is configured.
const DefaultLanguage = "en"

// ErrInvalidResponse is returned when the model reply is not valid JSON of
// the expected shape.
var ErrInvalidResponse = errors.New("llmrecognizer: invalid model response")

// Recognizer asks an LLM to translate a transcript into intents.
type Recognizer struct {
	provider    llm.Provider
	language    string
	vocabulary  []types.IntentSpec
	temperature float64
	maxTokens   int
	prompt      string
}

var _ nlu.Recognizer = (*Recognizer)(nil)

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the user's spoken language as a BCP-47 tag or plain name.
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithVocabulary replaces the command vocabulary. Defaults to
// types.Vocabulary.
func WithVocabulary(v []types.IntentSpec) Option {
	return func(r *Recognizer) { r.vocabulary = v }
}

// WithTemperature sets the sampling temperature. Defaults to 0.
func WithTemperature(t float64) Option {
	return func(r *Recognizer) { r.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(r *Recognizer) { r.maxTokens = n }
}

// New returns a Recognizer backed by p.
func New(p llm.Provider, opts ...Option) (*Recognizer, error) {
	if p == nil {
		return nil, errors.New("llmrecognizer: provider must not be nil")
	}
	r := &Recognizer{
		provider:   p,
		language:   DefaultLanguage,
		vocabulary: types.Vocabulary,
		maxTokens:  512,
	}
	for _, o := range opts {
		o(r)
	}
	if len(r.vocabulary) == 0 {
		return nil, errors.New("llmrecognizer: vocabulary must not be empty")
	}
	prompt, err := buildPrompt(r.language, r.vocabulary)
	if err != nil {
		return nil, err
	}
	r.prompt = prompt
	return r, nil
}

// SystemPrompt returns the prompt sent with every request.
func (r *Recognizer) SystemPrompt() string { return r.prompt }

// DetectIntents implements nlu.Recognizer.
func (r *Recognizer) DetectIntents(ctx context.Context, text string) ([]types.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: r.prompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		JSON:         true,
	})
	if err != nil {
		if errors.Is(err, llm.ErrServiceUnavailable) {
			return nil, fmt.Errorf("llmrecognizer: %w: %w", nlu.ErrServiceUnavailable, err)
		}
		return nil, fmt.Errorf("llmrecognizer: complete: %w", err)
	}
	intents, err := Parse(resp.Content)
	if err != nil {
		return nil, err
	}
	slog.Debug("llmrecognizer: intents detected", "text", text, "count", len(intents))
	return intents, nil
}

// Parse decodes a model reply into intents. Markdown code fences around the
// JSON are tolerated. Intents without a kind are skipped, kinds outside the
// vocabulary are kept so the actuator can report them as unsupported, and
// confidences are clamped to [0, 1].
func Parse(content string) ([]types.Intent, error) {
	content = stripFences(content)
	if content == "" {
		return nil, nil
	}
	var reply struct {
		Intents []struct {
			Kind       string         `json:"kind"`
			Confidence *float64       `json:"confidence"`
			Entities   types.Entities `json:"entities"`
		} `json:"intents"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	out := make([]types.Intent, 0, len(reply.Intents))
	for _, in := range reply.Intents {
		kind := types.IntentKind(strings.ToLower(strings.TrimSpace(in.Kind)))
		if kind == "" {
			continue
		}
		if !kind.Known() {
			slog.Warn("llmrecognizer: model produced unknown intent kind", "kind", kind)
		}
		conf := 1.0
		if in.Confidence != nil {
			conf = min(max(*in.Confidence, 0), 1)
		}
		entities := in.Entities
		if entities == nil {
			entities = types.Entities{}
		}
		out = append(out, types.Intent{Kind: kind, Confidence: conf, Entities: entities})
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
