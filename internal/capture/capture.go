// Package capture turns live microphone audio into utterances.
//
// Two capturers exist. [VAD] decides locally, frame by frame, whether the
// user is speaking and hands finished utterances to the listener as WAV
// files. [Streaming] forwards the audio to a streaming speech-to-text session
// and hands over the final transcript instead.
//
// Both report progress through the same typed [Event]s so the session
// orchestrator can drive its state machine without caring which one is in
// use. Events are delivered from the capturer's goroutine, one at a time.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrSourceClosed is reported when the audio source ends while capture is
// still active.
var ErrSourceClosed = errors.New("capture: audio source closed unexpectedly")

// ErrAlreadyRunning is returned by Start on a capturer that is running.
var ErrAlreadyRunning = errors.New("capture: already running")

// Defaults shared by the capturers.
const (
	DefaultPreRoll      = 500 * time.Millisecond
	DefaultSilenceDelay = 1500 * time.Millisecond
)

// EventKind identifies a capture event.
type EventKind int

const (
	// ListeningStarted means the microphone is open and waiting for speech.
	ListeningStarted EventKind = iota + 1

	// RecordingStarted means speech was detected.
	RecordingStarted

	// RecordingStopped means the speaker went silent and the utterance is
	// being finalised.
	RecordingStopped

	// UtteranceReady carries a finished utterance in WAV or Text.
	UtteranceReady

	// Failed carries an error that ended capture.
	Failed
)

func (k EventKind) String() string {
	switch k {
	case ListeningStarted:
		return "listening_started"
	case RecordingStarted:
		return "recording_started"
	case RecordingStopped:
		return "recording_stopped"
	case UtteranceReady:
		return "utterance_ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a single capture notification.
type Event struct {
	Kind EventKind

	// WAV holds a 16-bit mono RIFF file for UtteranceReady events from the
	// VAD capturer.
	WAV []byte

	// Text holds the final transcript for UtteranceReady events from the
	// streaming capturer.
	Text string

	// Err is set for Failed events.
	Err error
}

// Listener receives capture events. It must not block for long.
type Listener func(Event)

// Capturer is implemented by VAD and Streaming.
type Capturer interface {
	// Start opens the microphone and begins emitting events to l. It fails
	// with miclock.ErrMicrophoneBusy when another instance owns the
	// microphone and with audio.ErrPermissionDenied when the device refuses
	// access.
	Start(ctx context.Context, l Listener) error

	// Stop ends capture. A partially recorded utterance is delivered before
	// the microphone is released. Stop on a stopped capturer is a no-op.
	Stop() error

	// Running reports whether capture is active.
	Running() bool
}

// Lock guards exclusive microphone access. *miclock.Arbiter implements it.
type Lock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	Lost() <-chan struct{}
}

// ErrLeaseLost is reported when another instance took over the microphone.
var ErrLeaseLost = errors.New("capture: microphone taken over by another instance")
