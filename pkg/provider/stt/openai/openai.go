// Package openai provides an [stt.Transcriber] backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/voxact/pkg/provider/llm"
	llmopenai "github.com/MrWong99/voxact/pkg/provider/llm/openai"
	"github.com/MrWong99/voxact/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithModel selects the transcription model.
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = oai.AudioModel(model) }
}

// WithLanguage sets an ISO-639-1 language hint. Empty lets the model detect it.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithPrompt passes vocabulary context, such as the page's voice labels, to
// the model.
func WithPrompt(prompt string) Option {
	return func(t *Transcriber) { t.prompt = prompt }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.baseURL = u }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.timeout = d }
}

// Transcriber implements stt.Transcriber with the OpenAI audio API.
type Transcriber struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
	baseURL  string
	timeout  time.Duration
}

var _ stt.Transcriber = (*Transcriber)(nil)

// New constructs a Transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	t := &Transcriber{model: defaultModel, timeout: 30 * time.Second}
	for _, o := range opts {
		o(t)
	}
	t.client = oai.NewClient(llmopenai.RequestOptions(apiKey, t.baseURL, "", t.timeout)...)
	return t, nil
}

// Transcribe uploads wav and returns the recognised text.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: t.model,
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		err = llmopenai.Classify(err)
		if errors.Is(err, llm.ErrServiceUnavailable) {
			return "", fmt.Errorf("openai: transcribe: %w: %v", stt.ErrServiceUnavailable, err)
		}
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
