package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxact/internal/config"
	"github.com/MrWong99/voxact/pkg/audio"
	audiomock "github.com/MrWong99/voxact/pkg/audio/mock"
	"github.com/MrWong99/voxact/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxact/pkg/provider/llm/mock"
	"github.com/MrWong99/voxact/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxact/pkg/provider/stt/mock"
	"github.com/MrWong99/voxact/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxact/pkg/provider/vad/mock"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
  log_file:
    path: /var/log/voxact.log
    max_size_mb: 10
providers:
  llm:
    name: openai
    api_key: ${VOXACT_TEST_LLM_KEY}
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: llama3.2
  transcriber:
    name: whisper
    base_url: http://localhost:8080
  transcriber_fallbacks:
    - name: openai
      api_key: sk-$literal
  stt:
    name: deepgram
    api_key: dg
  vad:
    name: energy
  audio:
    name: miniaudio
capture:
  mode: vad
  speech_threshold: 450
  silence_delay: 1.2s
  pre_roll: 500ms
  sample_rate: 16000
voice:
  language: en-US
  wake_word: true
  wake_phrases: ["hey voxa"]
  stop_phrases: ["stop listening"]
  correction:
    enabled: true
    llm: true
session:
  error_reset: 3s
  intent_delay: 250ms
actuator:
  scroll_step: 300
  zoom_step: 0.1
browser:
  url: https://example.com/form
  headless: true
microphone:
  bus: redis
  redis:
    addr: localhost:6379
  heartbeat_interval: 1s
  stale_after: 3s
journal:
  postgres_dsn: postgres://localhost/voxact
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Setenv("VOXACT_TEST_LLM_KEY", "sk-from-env")

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("llm api_key = %q, want expanded env value", cfg.Providers.LLM.APIKey)
	}
	if got := cfg.Providers.TranscriberFallbacks[0].APIKey; got != "sk-$literal" {
		t.Errorf("bare $ should survive expansion, got %q", got)
	}
	if cfg.Capture.SilenceDelay != 1200*time.Millisecond {
		t.Errorf("silence_delay = %v", cfg.Capture.SilenceDelay)
	}
	if cfg.Capture.SpeechThreshold != 450 {
		t.Errorf("speech_threshold = %v", cfg.Capture.SpeechThreshold)
	}
	if len(cfg.Voice.WakePhrases) != 1 || cfg.Voice.WakePhrases[0] != "hey voxa" {
		t.Errorf("wake_phrases = %v", cfg.Voice.WakePhrases)
	}
	if cfg.Microphone.Bus != config.MicBusRedis || cfg.Microphone.Redis.Addr != "localhost:6379" {
		t.Errorf("microphone = %+v", cfg.Microphone)
	}
	if cfg.Session.IntentDelay != 250*time.Millisecond {
		t.Errorf("intent_delay = %v", cfg.Session.IntentDelay)
	}
}

func TestLoadFromReader_MissingEnvVar(t *testing.T) {
	yaml := `
providers:
  llm:
    name: openai
    api_key: ${VOXACT_TEST_SURELY_UNSET}
  transcriber:
    name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "VOXACT_TEST_SURELY_UNSET") {
		t.Fatalf("err = %v, want mention of the missing variable", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
  transcriber:
    name: whisper
hotkeys: []
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level field should be rejected")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	tests := []struct {
		name string
		call func() error
	}{
		{"llm", func() error { _, err := reg.CreateLLM(entry); return err }},
		{"transcriber", func() error { _, err := reg.CreateTranscriber(entry); return err }},
		{"stt", func() error { _, err := reg.CreateSTT(entry); return err }},
		{"vad", func() error { _, err := reg.CreateVAD(entry); return err }},
		{"audio", func() error { _, err := reg.CreateAudio(entry); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Fatalf("expected ErrProviderNotRegistered, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.name+"/") {
				t.Errorf("error should name the kind, got: %v", err)
			}
		})
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantLLM := &llmmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterTranscriber("stub", func(config.ProviderEntry) (stt.Transcriber, error) { return &sttmock.Transcriber{}, nil })
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterVAD("stub", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	reg.RegisterAudio("stub", func(config.ProviderEntry) (audio.Source, error) { return &audiomock.Source{}, nil })

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != wantLLM {
		t.Error("CreateLLM returned a different provider")
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Errorf("CreateTranscriber: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
	if _, err := reg.CreateAudio(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Errorf("CreateAudio: %v", err)
	}

	names := reg.Names()
	for _, kind := range []string{"llm", "transcriber", "stt", "vad", "audio"} {
		if len(names[kind]) != 1 || names[kind][0] != "stub" {
			t.Errorf("Names()[%s] = %v", kind, names[kind])
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTranscriber("broken", func(config.ProviderEntry) (stt.Transcriber, error) { return nil, boom })

	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}
