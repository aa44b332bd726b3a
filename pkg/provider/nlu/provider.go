// Package nlu defines the Recognizer interface that turns a transcript into
// structured intents.
//
// Recognizers only ever produce intent kinds from [types.Vocabulary]. An
// utterance containing several commands ("fill name with Alex and scroll
// down") yields several intents in spoken order.
package nlu

import (
	"context"
	"errors"

	"github.com/MrWong99/voxact/pkg/types"
)

// ErrServiceUnavailable marks failures caused by the recognition backend
// being unreachable or out of quota.
var ErrServiceUnavailable = errors.New("nlu: service unavailable")

// Recognizer extracts intents from transcribed text.
//
// Implementations must be safe for concurrent use.
type Recognizer interface {
	// DetectIntents returns the ordered intents found in text. A text with no
	// actionable command yields an empty slice and a nil error.
	DetectIntents(ctx context.Context, text string) ([]types.Intent, error)
}

// RecognizerFunc adapts a plain function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, text string) ([]types.Intent, error)

// DetectIntents calls f.
func (f RecognizerFunc) DetectIntents(ctx context.Context, text string) ([]types.Intent, error) {
	return f(ctx, text)
}
