// Package wakeword recognises the phrases that start and end a voice
// session.
//
// A [Detector] looks for a phrase anywhere in a transcript, word by word,
// tolerating recognition errors: each phrase word must sound like (Double
// Metaphone) or be spelled close to (Jaro-Winkler) the aligned transcript
// word. A [Listener] feeds a streaming transcription of the microphone to a
// Detector while no session is active.
package wakeword

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxact/internal/transcript/phonetic"
)

// Defaults.
var (
	DefaultWakePhrases = []string{"hey voxa"}
	DefaultStopPhrases = []string{"stop listening", "goodbye voxa"}
)

const (
	defaultThreshold = 0.80

	// soundsAlikeScore is credited to a word pair that shares a phonetic
	// code but is spelled differently.
	soundsAlikeScore = 0.90

	// mergedThreshold applies when the recogniser split or merged words
	// ("hey vox a", "heyvoxa") and only the joined spelling is compared.
	mergedThreshold = 0.92
)

type phrase struct {
	text    string
	tokens  []string
	compact string
}

func compile(texts []string) []phrase {
	out := make([]phrase, 0, len(texts))
	for _, t := range texts {
		norm := phonetic.Normalize(t)
		if norm == "" {
			continue
		}
		tokens := strings.Fields(norm)
		out = append(out, phrase{text: t, tokens: tokens, compact: strings.Join(tokens, "")})
	}
	return out
}

// Option configures a Detector.
type Option func(*Detector)

// WithThreshold sets the minimum per-word similarity. Default: 0.80.
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// Detector is safe for concurrent use. Phrases may be replaced at runtime
// with SetPhrases.
type Detector struct {
	threshold float64

	mu   sync.RWMutex
	wake []phrase
	stop []phrase
}

// NewDetector returns a detector for the given phrases. Nil slices select the
// defaults; empty slices disable the respective check.
func NewDetector(wake, stop []string, opts ...Option) *Detector {
	d := &Detector{threshold: defaultThreshold}
	for _, o := range opts {
		o(d)
	}
	d.SetPhrases(wake, stop)
	return d
}

// SetPhrases replaces the wake and stop phrases. Nil slices select the
// defaults.
func (d *Detector) SetPhrases(wake, stop []string) {
	if wake == nil {
		wake = DefaultWakePhrases
	}
	if stop == nil {
		stop = DefaultStopPhrases
	}
	w, s := compile(wake), compile(stop)
	d.mu.Lock()
	d.wake, d.stop = w, s
	d.mu.Unlock()
}

// WakePhrases returns the configured wake phrases.
func (d *Detector) WakePhrases() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.wake))
	for i, p := range d.wake {
		out[i] = p.text
	}
	return out
}

// IsWake reports whether text contains a wake phrase.
func (d *Detector) IsWake(text string) bool {
	d.mu.RLock()
	phrases := d.wake
	d.mu.RUnlock()
	return d.contains(text, phrases)
}

// IsStop reports whether text contains a stop phrase.
func (d *Detector) IsStop(text string) bool {
	d.mu.RLock()
	phrases := d.stop
	d.mu.RUnlock()
	return d.contains(text, phrases)
}

func (d *Detector) contains(text string, phrases []phrase) bool {
	tokens := strings.Fields(phonetic.Normalize(text))
	if len(tokens) == 0 {
		return false
	}
	for _, p := range phrases {
		if d.aligned(tokens, p) || merged(tokens, p) {
			return true
		}
	}
	return false
}

// aligned slides p over tokens and accepts a window whose weakest word
// still reaches the threshold.
func (d *Detector) aligned(tokens []string, p phrase) bool {
	k := len(p.tokens)
	for i := 0; i+k <= len(tokens); i++ {
		ok := true
		for j, want := range p.tokens {
			if wordScore(tokens[i+j], want) < d.threshold {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func merged(tokens []string, p phrase) bool {
	k := len(p.tokens)
	for _, n := range []int{k - 1, k + 1} {
		if n < 1 {
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			if matchr.JaroWinkler(strings.Join(tokens[i:i+n], ""), p.compact, false) >= mergedThreshold {
				return true
			}
		}
	}
	return false
}

func wordScore(got, want string) float64 {
	if got == want {
		return 1
	}
	score := matchr.JaroWinkler(got, want, false)
	gp, gs := matchr.DoubleMetaphone(got)
	wp, ws := matchr.DoubleMetaphone(want)
	if gp != "" && (gp == wp || gp == ws || (gs != "" && (gs == wp || gs == ws))) {
		score = max(score, soundsAlikeScore)
	}
	return score
}
