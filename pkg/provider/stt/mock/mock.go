// Package mock provides test doubles for the stt package interfaces.
//
// Transcriber returns scripted texts for finished utterances. Provider opens
// a fresh Session for every StartStream call; tests drive a session through
// Partial, Final and End and inspect the audio it received.
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	p.Last().Final("scroll down")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxact/pkg/provider/stt"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned in order; once exhausted the last one repeats.
	Texts []string

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls holds every WAV blob received.
	Calls [][]byte
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records wav and returns the next scripted text.
func (m *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, wav)
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.Texts) == 0 {
		return "", nil
	}
	i := min(len(m.Calls), len(m.Texts)) - 1
	return m.Texts[i], nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartStream.
	StartErr error

	// Configs records the StreamConfig of every StartStream call.
	Configs []stt.StreamConfig

	// Sessions holds every session opened, in order.
	Sessions []*Session

	started chan struct{}
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records cfg and opens a new Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Configs = append(p.Configs, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	return s, nil
}

// Started returns a channel that receives a value after each successful
// StartStream.
func (p *Provider) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 16)
	}
	return p.started
}

// Last returns the most recently opened session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// StartCount returns the number of StartStream calls, failed ones included.
// Thread-safe.
func (p *Provider) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Configs)
}

// SessionCount returns the number of sessions opened. Thread-safe.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sessions)
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu       sync.Mutex
	partials chan stt.Transcript
	finals   chan stt.Transcript
	closed   bool
	audio    [][]byte
	keywords []stt.KeywordBoost

	// CloseCount is the number of Close calls.
	CloseCount int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a session with buffered channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// Partial emits an interim transcript.
func (s *Session) Partial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.partials <- stt.Transcript{Text: text}
	}
}

// Final emits a committed transcript.
func (s *Session) Final(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.finals <- stt.Transcript{Text: text, IsFinal: true}
	}
}

// End simulates the provider ending the session.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Audio returns the chunks received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = keywords
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	s.close()
	return nil
}
