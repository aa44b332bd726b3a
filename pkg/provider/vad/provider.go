// Package vad defines the Engine interface for voice activity detection.
//
// An Engine hands out per-stream sessions. Each session keeps its own
// detection state, so a capturer that restarts its source simply opens a new
// session. ProcessFrame is synchronous and must not block: it runs inside the
// capture loop for every frame.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected frame duration. Engines that work on
	// arbitrary frame sizes ignore it.
	FrameSizeMs int

	// SpeechThreshold is the level above which a frame counts as speech, in
	// the engine's native scale (RMS sample units for the energy engine).
	SpeechThreshold float64

	// SilenceThreshold is the level below which an active speech segment is
	// considered ended. Zero means SpeechThreshold. Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of 16-bit little-endian PCM and returns
	// the detection result.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
