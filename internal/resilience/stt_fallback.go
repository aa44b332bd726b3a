package resilience

import (
	"context"

	"github.com/MrWong99/voxact/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// several streaming backends. Only opening the stream is covered; once a
// session runs, its failures are the caller's to handle.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional streaming provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of every backend.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// StartStream opens a session against the first healthy provider.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// TranscriberFallback implements [stt.Transcriber] with automatic failover,
// for example from a local whisper server to the OpenAI audio API.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States reports the breaker state of every backend.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }

// Transcribe sends wav to the first healthy transcriber.
func (f *TranscriberFallback) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, wav)
	})
}
