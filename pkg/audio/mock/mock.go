// Package mock provides an in-memory [audio.Source] for tests.
//
// The Source records Start and Stop calls. Frames are pushed by the test
// through Push; the channel returned by Start is closed on Stop.
//
//	src := &mock.Source{}
//	frames, _ := src.Start(ctx)
//	src.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxact/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// Buffer is the capacity of the frame channel. Defaults to 1024.
	Buffer int

	// StartCalls is the number of times Start was called.
	StartCalls int

	// StopCalls is the number of times Stop was called.
	StopCalls int

	ch chan audio.Frame
}

var _ audio.Source = (*Source)(nil)

// Start records the call and returns a fresh frame channel.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	size := s.Buffer
	if size <= 0 {
		size = 1024
	}
	s.ch = make(chan audio.Frame, size)
	return s.ch, nil
}

// Push delivers f to the current Start channel. It is a no-op when the source
// is stopped.
func (s *Source) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch <- f
	}
}

// Running reports whether Start was called without a matching Stop.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}

// Stop records the call and closes the frame channel.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	return nil
}
