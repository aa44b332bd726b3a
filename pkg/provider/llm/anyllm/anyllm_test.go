package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxact/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_Plain(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You map speech to commands.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "scroll down"}},
		Temperature:  0.2,
		MaxTokens:    128,
	})
	if params.Model != "llama3" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "scroll down" {
		t.Errorf("user content = %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_JSONMode(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
		JSON:     true,
	})
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want system prompt added", len(params.Messages))
	}
	if !strings.Contains(params.Messages[0].ContentString(), "JSON") {
		t.Errorf("system prompt %q lacks JSON instruction", params.Messages[0].ContentString())
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero values should leave provider defaults")
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestBackends_Sorted(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() = %v, not sorted", got)
	}
	for _, want := range []string{"anthropic", "ollama", "openai"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() lacks %q", want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name      string
		vendor    string
		model     string
		opts      []anyllmlib.Option
		wantInErr string
	}{
		{name: "openai with key", vendor: "openai", model: "gpt-4o-mini", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{name: "vendor is case insensitive", vendor: "Anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{name: "local ollama needs no key", vendor: "ollama", model: "llama3"},
		{name: "local llamacpp", vendor: "llamacpp", model: "llama3"},
		{name: "missing model", vendor: "openai", wantInErr: "model must not be empty"},
		{name: "unknown vendor", vendor: "hal9000", model: "x", wantInErr: "unsupported backend"},
		{name: "openai without key", vendor: "openai", model: "gpt-4o-mini", wantInErr: "create openai backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.vendor, tt.model, tt.opts...)
			if tt.wantInErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantInErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantInErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}
