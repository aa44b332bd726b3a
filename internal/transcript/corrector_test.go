package transcript_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxact/internal/transcript"
	"github.com/MrWong99/voxact/internal/transcript/llmcorrect"
	"github.com/MrWong99/voxact/pkg/provider/llm/mock"
)

func pageLabels(labels ...string) func() []string {
	return func() []string { return labels }
}

func TestCorrector_Phonetic(t *testing.T) {
	t.Parallel()

	c := transcript.New(pageLabels("Zip code", "Country", "Newsletter", "Email"))
	tests := []struct {
		in   string
		want string
	}{
		{"fill sip coat with 12345", "fill Zip code with 12345"},
		{"check news letter", "check Newsletter"},
		{"open cuntry.", "open Country."},
		{"fill e mail with ann at example dot com", "fill Email with ann at example dot com"},
		{"scroll down", "scroll down"},
		{"fill country with germany", "fill country with germany"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := c.Correct(context.Background(), tt.in); got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrector_ApplyReportsCorrections(t *testing.T) {
	t.Parallel()

	c := transcript.New(pageLabels("Zip code"))
	res, err := c.Apply(context.Background(), "fill sip coat with 12345")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Original != "fill sip coat with 12345" {
		t.Errorf("Original = %q", res.Original)
	}
	if len(res.Corrections) != 1 {
		t.Fatalf("corrections = %+v", res.Corrections)
	}
	got := res.Corrections[0]
	if got.Original != "sip coat" || got.Corrected != "Zip code" || got.Method != "phonetic" {
		t.Errorf("correction = %+v", got)
	}
}

func TestCorrector_ProtectedWordsStay(t *testing.T) {
	t.Parallel()

	// "Filter" sounds like "fill" but commands must survive.
	c := transcript.New(pageLabels("Filter", "Type"))
	if got := c.Correct(context.Background(), "fill type with x"); got != "fill type with x" {
		t.Errorf("Correct = %q, want command words untouched", got)
	}

	custom := transcript.New(pageLabels("Country"), transcript.WithProtectedWords("cuntry"))
	if got := custom.Correct(context.Background(), "open cuntry"); got != "open cuntry" {
		t.Errorf("Correct = %q, want protected word untouched", got)
	}
}

func TestCorrector_NoLabels(t *testing.T) {
	t.Parallel()

	c := transcript.New(pageLabels())
	if got := c.Correct(context.Background(), "fill sip coat"); got != "fill sip coat" {
		t.Errorf("Correct = %q", got)
	}
	if got := transcript.New(nil).Correct(context.Background(), "x"); got != "x" {
		t.Errorf("Correct with nil label source = %q", got)
	}
}

func TestCorrector_LLMStageReceivesSuspects(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []string{
		`{"corrected_text": "fill Date of birth with yesterday", "corrections": [{"original": "birthday", "corrected": "Date of birth", "confidence": 0.7}]}`,
	}}
	c := transcript.New(pageLabels("Date of birth"), transcript.WithLLM(llmcorrect.New(p)))

	res, err := c.Apply(context.Background(), "fill birthday with yesterday")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Corrected != "fill Date of birth with yesterday" {
		t.Errorf("Corrected = %q", res.Corrected)
	}
	if n := len(res.Corrections); n != 1 || res.Corrections[0].Method != "llm" {
		t.Errorf("corrections = %+v", res.Corrections)
	}
	if p.CallCount() != 1 {
		t.Fatalf("llm calls = %d, want 1", p.CallCount())
	}
}

func TestCorrector_LLMSkippedWithoutSuspects(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Responses: []string{`{"corrected_text": "x"}`}}
	c := transcript.New(pageLabels("Zip code"), transcript.WithLLM(llmcorrect.New(p)))
	if got := c.Correct(context.Background(), "fill sip coat with 12345"); got != "fill Zip code with 12345" {
		t.Errorf("Correct = %q", got)
	}
	if p.CallCount() != 0 {
		t.Errorf("llm calls = %d, want 0", p.CallCount())
	}
}

func TestCorrector_LLMErrorKeepsPhoneticResult(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Err: errors.New("timeout")}
	c := transcript.New(pageLabels("Zip code", "Date of birth"), transcript.WithLLM(llmcorrect.New(p)))

	res, err := c.Apply(context.Background(), "fill sip coat with xylophone")
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Corrected != "fill Zip code with xylophone" {
		t.Errorf("Corrected = %q, want phonetic result", res.Corrected)
	}
	if got := c.Correct(context.Background(), "fill sip coat with xylophone"); got != "fill Zip code with xylophone" {
		t.Errorf("Correct = %q", got)
	}
}
