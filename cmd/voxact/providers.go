package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxact/internal/app"
	"github.com/MrWong99/voxact/internal/config"
	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/audio/miniaudio"
	"github.com/MrWong99/voxact/pkg/provider/llm"
	"github.com/MrWong99/voxact/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxact/pkg/provider/llm/openai"
	"github.com/MrWong99/voxact/pkg/provider/stt"
	"github.com/MrWong99/voxact/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voxact/pkg/provider/stt/openai"
	"github.com/MrWong99/voxact/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxact/pkg/provider/vad"
	"github.com/MrWong99/voxact/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. Settings shared across
// providers, such as language and sample rate, come from cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	lang := cfg.Voice.Language
	rate := cfg.Capture.SampleRate

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm-go. Local servers such as
	// ollama simply leave APIKey empty.
	for _, vendor := range anyllm.Backends() {
		if vendor == "openai" {
			continue
		}
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if l := optString(entry.Options, "language", lang); l != "" {
			opts = append(opts, whisper.WithLanguage(l))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path", "")
		}
		var opts []whisper.NativeOption
		if l := optString(entry.Options, "language", lang); l != "" {
			opts = append(opts, whisper.WithNativeLanguage(l))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if l := optString(entry.Options, "language", lang); l != "" {
			opts = append(opts, oastt.WithLanguage(l))
		}
		if p := optString(entry.Options, "prompt", ""); p != "" {
			opts = append(opts, oastt.WithPrompt(p))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	// ── Streaming STT ─────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if l := optString(entry.Options, "language", lang); l != "" {
			opts = append(opts, deepgram.WithLanguage(l))
		}
		if rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		if ms := optInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "keep_alive"); d > 0 {
			opts = append(opts, deepgram.WithKeepAlive(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(cfg.Capture.SpeechThreshold), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("miniaudio", func(entry config.ProviderEntry) (audio.Source, error) {
		var opts []miniaudio.Option
		if rate > 0 {
			opts = append(opts, miniaudio.WithSampleRate(rate))
		}
		if n := optInt(entry.Options, "period_size"); n > 0 {
			opts = append(opts, miniaudio.WithPeriodSize(uint32(n)))
		}
		return miniaudio.New(opts...), nil
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers
	var err error

	if ps.LLM, err = create("llm", pc.LLM, reg.CreateLLM); err != nil {
		return nil, err
	}
	for _, fb := range pc.LLMFallbacks {
		p, err := create("llm", fb, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.LLMFallbacks = append(ps.LLMFallbacks, app.Named[llm.Provider]{Name: fb.Name, Provider: p})
		}
	}

	if ps.Transcriber, err = create("transcriber", pc.Transcriber, reg.CreateTranscriber); err != nil {
		return nil, err
	}
	for _, fb := range pc.TranscriberFallbacks {
		t, err := create("transcriber", fb, reg.CreateTranscriber)
		if err != nil {
			return nil, err
		}
		if t != nil {
			ps.TranscriberFallbacks = append(ps.TranscriberFallbacks, app.Named[stt.Transcriber]{Name: fb.Name, Provider: t})
		}
	}

	if ps.STT, err = create("stt", pc.STT, reg.CreateSTT); err != nil {
		return nil, err
	}
	for _, fb := range pc.STTFallbacks {
		p, err := create("stt", fb, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.STTFallbacks = append(ps.STTFallbacks, app.Named[stt.Provider]{Name: fb.Name, Provider: p})
		}
	}

	vadEntry := pc.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "energy"
	}
	if ps.VAD, err = create("vad", vadEntry, reg.CreateVAD); err != nil {
		return nil, err
	}

	audioEntry := pc.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = "miniaudio"
	}
	if ps.Audio, err = create("audio", audioEntry, reg.CreateAudio); err != nil {
		return nil, err
	}

	return ps, nil
}

// create instantiates one provider. An empty name yields the zero value; a
// name nobody registered is logged and skipped.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns def if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key, def string) string {
	if s, ok := opts[key].(string); ok {
		return s
	}
	return def
}

// optInt extracts an integer value. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration extracts a duration given as a Go duration string ("30s").
func optDuration(opts map[string]any, key string) time.Duration {
	s, ok := opts[key].(string)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
