// Package energy implements a volume-based VAD engine. A frame counts as
// speech when its RMS amplitude reaches the speech threshold; an active
// segment ends when the level falls below the silence threshold.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/vad"
)

// DefaultThreshold is the RMS level, in 16-bit sample units, that counts as
// speech when a session is created without one.
const DefaultThreshold = 300

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine creates energy sessions. The threshold can be changed at runtime
// with SetThreshold; sessions pick up the new value on their next frame
// unless their Config pinned one.
type Engine struct {
	threshold atomic.Uint64
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine using threshold as the default speech level. A
// non-positive threshold selects DefaultThreshold.
func New(threshold float64) *Engine {
	e := &Engine{}
	e.SetThreshold(threshold)
	return e
}

// SetThreshold changes the default speech level.
func (e *Engine) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	e.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the default speech level.
func (e *Engine) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// NewSession validates cfg and returns a session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold < 0 || cfg.SilenceThreshold < 0 {
		return nil, fmt.Errorf("energy: negative threshold")
	}
	if cfg.SilenceThreshold > 0 && cfg.SpeechThreshold > 0 && cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.1f above speech threshold %.1f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{engine: e, cfg: cfg}, nil
}

type session struct {
	engine *Engine
	cfg    vad.Config

	mu       sync.Mutex
	speaking bool
	closed   bool
}

func (s *session) thresholds() (speech, silence float64) {
	speech = s.cfg.SpeechThreshold
	if speech == 0 {
		speech = s.engine.Threshold()
	}
	silence = s.cfg.SilenceThreshold
	if silence == 0 || silence > speech {
		silence = speech
	}
	return speech, silence
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}

	level := audio.RMS(frame)
	speech, silence := s.thresholds()
	ev := vad.VADEvent{Level: level, Probability: math.Min(level/(2*speech), 1)}

	switch {
	case !s.speaking && level >= speech:
		s.speaking = true
		ev.Type = vad.VADSpeechStart
	case s.speaking && level < silence:
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
	case s.speaking:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
