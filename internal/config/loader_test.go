package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxact/internal/config"
)

// base is the smallest valid config; cases append to it.
const base = `
providers:
  llm:
    name: openai
  transcriber:
    name: whisper
`

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{name: "minimal", yaml: base},
		{
			name:    "no llm",
			yaml:    "providers:\n  transcriber:\n    name: whisper\n",
			wantErr: []string{"providers.llm is required"},
		},
		{
			name:    "bad log level",
			yaml:    base + "server:\n  log_level: verbose\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "bad log format",
			yaml:    base + "server:\n  log_format: xml\n",
			wantErr: []string{"server.log_format"},
		},
		{
			name:    "log file without path",
			yaml:    base + "server:\n  log_file:\n    max_size_mb: 5\n",
			wantErr: []string{"server.log_file.path"},
		},
		{
			name:    "tls half configured",
			yaml:    base + "server:\n  tls:\n    cert_file: a.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "vad mode needs transcriber",
			yaml:    "providers:\n  llm:\n    name: openai\n",
			wantErr: []string{"requires providers.transcriber"},
		},
		{
			name:    "streaming mode needs stt",
			yaml:    base + "capture:\n  mode: streaming\n",
			wantErr: []string{"requires providers.stt"},
		},
		{
			name: "streaming mode with stt",
			yaml: "providers:\n  llm:\n    name: openai\n  stt:\n    name: deepgram\ncapture:\n  mode: streaming\n",
		},
		{
			name:    "unknown capture mode",
			yaml:    base + "capture:\n  mode: telepathy\n",
			wantErr: []string{"capture.mode"},
		},
		{
			name:    "negative threshold",
			yaml:    base + "capture:\n  speech_threshold: -1\n",
			wantErr: []string{"capture.speech_threshold"},
		},
		{
			name:    "wake word needs stt",
			yaml:    base + "voice:\n  wake_word: true\n",
			wantErr: []string{"voice.wake_word requires providers.stt"},
		},
		{
			name:    "empty phrase",
			yaml:    base + "voice:\n  stop_phrases: [\"\"]\n",
			wantErr: []string{"voice.stop_phrases[0]"},
		},
		{
			name:    "zoom step out of range",
			yaml:    base + "actuator:\n  zoom_step: 2\n",
			wantErr: []string{"actuator.zoom_step"},
		},
		{
			name:    "redis bus without addr",
			yaml:    base + "microphone:\n  bus: redis\n",
			wantErr: []string{"microphone.redis.addr"},
		},
		{
			name:    "unknown bus",
			yaml:    base + "microphone:\n  bus: carrier-pigeon\n",
			wantErr: []string{"microphone.bus"},
		},
		{
			name:    "stale before heartbeat",
			yaml:    base + "microphone:\n  heartbeat_interval: 2s\n  stale_after: 1s\n",
			wantErr: []string{"microphone.stale_after"},
		},
		{
			name:    "fallbacks without primary",
			yaml:    "providers:\n  llm:\n    name: openai\n  transcriber_fallbacks:\n    - name: openai\n",
			wantErr: []string{"transcriber_fallbacks require providers.transcriber"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
capture:
  mode: psychic
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "capture.mode", "providers.llm"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "transcriber", "stt", "vad", "audio"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
