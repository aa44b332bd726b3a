// Package mock provides test doubles for the vad package interfaces.
//
// Session replays a scripted sequence of decisions, one per frame, and then
// repeats EventResult. Engine hands out that session and records configs.
//
//	sess := &mock.Session{Script: []vad.VADEvent{{Type: vad.VADSpeechStart}}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voxact/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new default Session is
	// returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	// Configs records the Config of every NewSession call in order.
	Configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records cfg and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script is consumed one event per ProcessFrame call.
	Script []vad.VADEvent

	// EventResult is returned once Script is exhausted.
	EventResult vad.VADEvent

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// Frames holds a copy of every processed frame.
	Frames [][]byte

	ResetCount int
	CloseCount int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame records the frame and returns the next scripted event.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	if len(s.Script) > 0 {
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	return s.EventResult, nil
}

// FrameCount returns the number of processed frames.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}
