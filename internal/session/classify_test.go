package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/voxact/internal/miclock"
	"github.com/MrWong99/voxact/internal/resilience"
	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/provider/stt"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"busy", fmt.Errorf("capture: acquire microphone: %w", miclock.ErrMicrophoneBusy), ReasonMicrophoneBusy},
		{"permission", fmt.Errorf("capture: start source: %w", audio.ErrPermissionDenied), ReasonPermissionDenied},
		{"stt", fmt.Errorf("whisper: %w", stt.ErrServiceUnavailable), ReasonServiceUnavailable},
		{"nlu", fmt.Errorf("llmrecognizer: %w", nlu.ErrServiceUnavailable), ReasonServiceUnavailable},
		{"all failed", fmt.Errorf("%w: boom", resilience.ErrAllFailed), ReasonServiceUnavailable},
		{"circuit open", resilience.ErrCircuitOpen, ReasonServiceUnavailable},
		{"timeout", context.DeadlineExceeded, ReasonServiceUnavailable},
		{"other", errors.New("page detached"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, msg := Classify(tt.err)
			if got != tt.want {
				t.Errorf("Classify() reason = %s, want %s", got, tt.want)
			}
			if msg == "" {
				t.Error("message must not be empty")
			}
		})
	}
}

func TestClassify_Messages(t *testing.T) {
	t.Parallel()

	if _, msg := Classify(miclock.ErrMicrophoneBusy); msg != "Microphone busy in another instance." {
		t.Errorf("busy message = %q", msg)
	}
	if _, msg := Classify(audio.ErrPermissionDenied); msg != "Please allow microphone access." {
		t.Errorf("permission message = %q", msg)
	}
}
