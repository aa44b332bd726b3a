// Package stt defines the speech-to-text abstractions used by Voxact.
//
// Two shapes exist. A [Transcriber] turns one finished utterance (a WAV blob
// from the VAD capturer) into text. A streaming [Provider] accepts live PCM
// and emits partial and final [Transcript] values; the streaming capturer and
// the wake-word listener use it.
//
// Implementations must be safe for concurrent use. Neither shape retries
// internally; fallback across backends lives in the resilience package.
package stt

import (
	"context"
	"errors"
)

// ErrServiceUnavailable marks a transcription failure caused by the backend
// being unreachable, rate limited or out of quota. Callers surface it as
// "service unavailable" to the user.
var ErrServiceUnavailable = errors.New("stt: service unavailable")

// ErrNotSupported is returned by optional session features a backend lacks.
var ErrNotSupported = errors.New("stt: not supported")

// Transcriber converts a complete utterance into text.
type Transcriber interface {
	// Transcribe returns the text spoken in wav, a 16-bit PCM RIFF file. An
	// utterance without recognisable speech yields "" and a nil error.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, wav []byte) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f(ctx, wav)
}

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag (e.g. "en-US"). Empty lets the
	// provider auto-detect, if supported.
	Language string

	// Keywords boosts recognition of page-specific vocabulary such as the
	// voice labels of the current document.
	Keywords []KeywordBoost
}

// SessionHandle is an open streaming session. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit PCM matching StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the keyword boost list. Providers that cannot
	// update mid-session return ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider opens streaming sessions.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
