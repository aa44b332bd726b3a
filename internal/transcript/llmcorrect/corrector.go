// Package llmcorrect asks a language model to repair voice labels that the
// phonetic stage could not place.
//
// The model receives the transcript and the labels of the current page and
// returns the repaired text with a list of substitutions. Only substitutions
// the model declares survive: any other edit it made to the text is reverted
// (see keepDeclared). An unparseable reply leaves the text unchanged.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/voxact/pkg/provider/llm"
)

const defaultTemperature = 0.1

const systemPromptTemplate = `You repair speech-to-text errors in voice commands spoken to a web page.

Rules:
- ONLY replace words that are misheard versions of the page labels listed below.
- Do NOT change command words, values, grammar or word order.
- If you are not sure, leave the text unchanged.
- Replacements must use the exact spelling from the label list.

Page labels:
%s
Reply with ONLY a JSON object (no markdown, no prose):
{"corrected_text": "<full text>", "corrections": [{"original": "<heard>", "corrected": "<label>", "confidence": <0.0-1.0>}]}

With nothing to repair, return the input as corrected_text and an empty corrections array.`

// Correction is one substitution reported by the model.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type reply struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// Corrector is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a Corrector backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct repairs text against labels. suspects are words the caller could
// not match and are pointed out to the model.
//
// Provider errors are returned; an unusable reply is not an error and
// yields text unchanged.
func (c *Corrector) Correct(ctx context.Context, text string, labels, suspects []string) (string, []Correction, error) {
	if len(labels) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	user := text
	if len(suspects) > 0 {
		user = fmt.Sprintf("Transcript: %s\n\nPossibly misheard: %s", text, strings.Join(suspects, ", "))
	}
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(labels),
		Temperature:  c.temperature,
		JSON:         true,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llmcorrect: complete: %w", err)
	}

	fixed, declared, err := parse(resp.Content)
	if err != nil || fixed == "" {
		return text, nil, nil
	}
	out, kept := keepDeclared(text, fixed, declared)
	return out, kept, nil
}

func systemPrompt(labels []string) string {
	var sb strings.Builder
	for _, l := range labels {
		sb.WriteString("- ")
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

func parse(content string) (string, []Correction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var r reply
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &r); err != nil {
		return "", nil, fmt.Errorf("llmcorrect: parse reply: %w", err)
	}
	out := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == "" || c.Original == c.Corrected {
			continue
		}
		out = append(out, Correction{Original: c.Original, Corrected: c.Corrected, Confidence: c.Confidence})
	}
	return r.CorrectedText, out, nil
}
