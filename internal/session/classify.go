package session

import (
	"context"
	"errors"

	"github.com/MrWong99/voxact/internal/miclock"
	"github.com/MrWong99/voxact/internal/resilience"
	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/llm"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/provider/stt"
)

// Reason is a coarse classification of an infrastructure failure.
type Reason string

const (
	ReasonMicrophoneBusy     Reason = "microphone_busy"
	ReasonPermissionDenied   Reason = "permission_denied"
	ReasonServiceUnavailable Reason = "service_unavailable"
	ReasonUnknown            Reason = "unknown"
)

// Messages shown to the user for each reason.
var reasonMessages = map[Reason]string{
	ReasonMicrophoneBusy:     "Microphone busy in another instance.",
	ReasonPermissionDenied:   "Please allow microphone access.",
	ReasonServiceUnavailable: "Service unavailable, try again later.",
	ReasonUnknown:            "Something went wrong, try again.",
}

// Classify maps an error from capture, transcription, recognition or the
// page host to a reason and the message shown to the user.
func Classify(err error) (Reason, string) {
	r := classify(err)
	return r, reasonMessages[r]
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, miclock.ErrMicrophoneBusy):
		return ReasonMicrophoneBusy
	case errors.Is(err, audio.ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, stt.ErrServiceUnavailable),
		errors.Is(err, nlu.ErrServiceUnavailable),
		errors.Is(err, llm.ErrServiceUnavailable),
		errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return ReasonServiceUnavailable
	default:
		return ReasonUnknown
	}
}
