package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker. The last backend error is wrapped alongside it, so
// sentinels such as stt.ErrServiceUnavailable remain visible to errors.Is.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order. A cancelled context
// stops the walk immediately.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// States reports the breaker state of every entry, keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. This is a package-level function
// because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("resilience: provider failed, trying next",
				"provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
