package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// transcribeGroup is a group over named fake transcribers; the value is the
// backend name itself.
func transcribeGroup(cfg CircuitBreakerConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{CircuitBreaker: cfg})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	errQuota := errors.New("quota exceeded")
	tests := []struct {
		name      string
		failures  map[string]error
		want      string
		wantCalls []string
		wantErrIs []error
		notErrIs  []error
	}{
		{
			name:      "primary answers",
			want:      "text from whisper",
			wantCalls: []string{"whisper"},
		},
		{
			name:      "falls back in order",
			failures:  map[string]error{"whisper": errTest},
			want:      "text from openai",
			wantCalls: []string{"whisper", "openai"},
		},
		{
			name:      "all fail wraps last error",
			failures:  map[string]error{"whisper": errTest, "openai": errTest, "local": errQuota},
			wantCalls: []string{"whisper", "openai", "local"},
			wantErrIs: []error{ErrAllFailed, errQuota},
		},
		{
			name:      "cancellation stops the walk",
			failures:  map[string]error{"whisper": context.Canceled},
			wantCalls: []string{"whisper"},
			wantErrIs: []error{context.Canceled},
			notErrIs:  []error{ErrAllFailed},
		},
		{
			name:      "deadline stops the walk",
			failures:  map[string]error{"whisper": context.DeadlineExceeded},
			wantCalls: []string{"whisper"},
			wantErrIs: []error{context.DeadlineExceeded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := transcribeGroup(CircuitBreakerConfig{MaxFailures: 3}, "whisper", "openai", "local")
			var calls []string
			got, err := ExecuteWithResult(fg, func(b string) (string, error) {
				calls = append(calls, b)
				if err := tt.failures[b]; err != nil {
					return "", err
				}
				return "text from " + b, nil
			})

			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if len(tt.wantErrIs) == 0 && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, target := range tt.wantErrIs {
				if !errors.Is(err, target) {
					t.Errorf("err = %v, want errors.Is %v", err, target)
				}
			}
			for _, target := range tt.notErrIs {
				if errors.Is(err, target) {
					t.Errorf("err = %v, must not wrap %v", err, target)
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBackend(t *testing.T) {
	t.Parallel()

	fg := transcribeGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, "whisper", "openai")
	flaky := func(b string) error {
		if b == "whisper" {
			return errTest
		}
		return nil
	}
	for range 2 {
		if err := fg.Execute(flaky); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	var calls []string
	if err := fg.Execute(func(b string) error { calls = append(calls, b); return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(calls, []string{"openai"}) {
		t.Errorf("calls = %v, want only openai while whisper is open", calls)
	}

	states := fg.States()
	if states["whisper"] != StateOpen || states["openai"] != StateClosed {
		t.Errorf("states = %v", states)
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	t.Parallel()

	fg := transcribeGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, "whisper")
	_ = fg.Execute(func(string) error { return errTest })

	called := false
	err := fg.Execute(func(string) error { called = true; return nil })
	if called {
		t.Error("backend called while its breaker is open")
	}
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}
