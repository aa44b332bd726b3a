// Package audio defines the frame and source abstractions used by the
// capture pipeline, plus the PCM helpers shared by capturers and
// transcribers.
//
// All PCM in Voxact is little-endian signed 16-bit. A [Source] delivers
// frames from a microphone (or a test double) until it is closed.
//
// This package lives under pkg/ because external code is expected to
// implement [Source] for other capture backends.
package audio

import (
	"context"
	"errors"
	"time"
)

// DefaultSampleRate is the capture rate used when a source does not say
// otherwise. It matches what the transcription backends expect.
const DefaultSampleRate = 16000

// ErrPermissionDenied is returned by a Source that cannot open the capture
// device because the operating system refused access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Frame is a single chunk of captured PCM audio.
type Frame struct {
	// Data is 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels. Capture sources in
	// Voxact are mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	ch := max(f.Channels, 1)
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / ch
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Source produces audio frames from a capture device.
//
// Implementations must be safe for concurrent use. Start may be called again
// after Stop to reopen the device.
type Source interface {
	// Start opens the device and returns a channel of frames. The channel is
	// closed when Stop is called or ctx is cancelled.
	Start(ctx context.Context) (<-chan Frame, error)

	// Stop releases the device. Calling Stop on a stopped source is a no-op.
	Stop() error
}

// Drain reads from ch until the channel is closed, discarding all values.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
