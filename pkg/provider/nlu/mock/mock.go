// Package mock provides a test double for the nlu.Recognizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/types"
)

// Recognizer is a mock implementation of nlu.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results maps an input text to the intents returned for it. Texts not
	// present fall back to Default.
	Results map[string][]types.Intent

	// Default is returned for unknown texts.
	Default []types.Intent

	// Err, if non-nil, is returned by every call.
	Err error

	// Texts records every input in order.
	Texts []string
}

var _ nlu.Recognizer = (*Recognizer)(nil)

// DetectIntents records text and returns the scripted intents.
func (r *Recognizer) DetectIntents(ctx context.Context, text string) ([]types.Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Texts = append(r.Texts, text)
	if r.Err != nil {
		return nil, r.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if out, ok := r.Results[text]; ok {
		return out, nil
	}
	return r.Default, nil
}

// CallCount returns the number of DetectIntents calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Texts)
}
