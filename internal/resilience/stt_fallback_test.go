package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxact/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxact/pkg/provider/stt/mock"
)

func TestSTTFallback_StartStream_Failover(t *testing.T) {
	primary := &sttmock.Provider{StartErr: errors.New("primary down")}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if len(primary.Configs) != 1 || secondary.SessionCount() != 1 {
		t.Fatalf("primary calls = %d, secondary sessions = %d", len(primary.Configs), secondary.SessionCount())
	}
	_ = handle.Close()
}

func TestSTTFallback_StartStream_AllFail(t *testing.T) {
	primary := &sttmock.Provider{StartErr: stt.ErrServiceUnavailable}
	secondary := &sttmock.Provider{StartErr: stt.ErrServiceUnavailable}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, stt.ErrServiceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestTranscriberFallback_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: stt.ErrServiceUnavailable}
	secondary := &sttmock.Transcriber{Texts: []string{"scroll down"}}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), []byte("RIFF"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "scroll down" {
		t.Errorf("text = %q", text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d", primary.CallCount(), secondary.CallCount())
	}
}

func TestTranscriberFallback_OpenCircuitSkipsPrimary(t *testing.T) {
	primary := &sttmock.Transcriber{Err: stt.ErrServiceUnavailable}
	secondary := &sttmock.Transcriber{Texts: []string{"ok"}}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("openai", secondary)

	for range 3 {
		if _, err := fb.Transcribe(context.Background(), nil); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1 before the circuit opened", primary.CallCount())
	}
	if fb.States()["whisper"] != StateOpen {
		t.Errorf("states = %v", fb.States())
	}
}
