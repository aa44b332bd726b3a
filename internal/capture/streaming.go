package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxact/internal/miclock"
	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/stt"
)

// Streaming delegates speech detection to a streaming transcription session.
//
// Each utterance gets its own session: the first partial result marks the
// start of speech, the first non-empty final ends it and is delivered as
// text. A new session is opened right away while capture is active. While
// paused no new session is opened; the audio is discarded until Resume.
type Streaming struct {
	source   audio.Source
	provider stt.Provider
	cfg      stt.StreamConfig
	lock     Lock

	mu       sync.Mutex
	running  bool
	paused   bool
	keywords []stt.KeywordBoost
	stop     chan struct{}
	done     chan struct{}
	wake     chan struct{}
}

var _ Capturer = (*Streaming)(nil)

// StreamingOption configures a Streaming capturer.
type StreamingOption func(*Streaming)

// WithStreamLock guards the microphone with l.
func WithStreamLock(l Lock) StreamingOption {
	return func(c *Streaming) { c.lock = l }
}

// WithStreamConfig sets the session configuration.
func WithStreamConfig(cfg stt.StreamConfig) StreamingOption {
	return func(c *Streaming) { c.cfg = cfg }
}

// NewStreaming returns a capturer reading from src and transcribing with p.
func NewStreaming(src audio.Source, p stt.Provider, opts ...StreamingOption) *Streaming {
	c := &Streaming{
		source:   src,
		provider: p,
		cfg:      stt.StreamConfig{SampleRate: audio.DefaultSampleRate, Channels: 1},
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Running reports whether capture is active.
func (c *Streaming) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Pause stops opening new sessions, for example while the page is hidden.
// A session already in progress finishes normally.
func (c *Streaming) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables sessions and opens one if none is active.
func (c *Streaming) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.poke()
}

// Paused reports whether sessions are suspended.
func (c *Streaming) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetKeywords replaces the recognition hints used for the following
// sessions.
func (c *Streaming) SetKeywords(kw []stt.KeywordBoost) {
	c.mu.Lock()
	c.keywords = append([]stt.KeywordBoost(nil), kw...)
	c.mu.Unlock()
}

func (c *Streaming) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Start implements Capturer.
func (c *Streaming) Start(ctx context.Context, l Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	if c.lock != nil {
		if err := c.lock.Acquire(ctx); err != nil {
			return fmt.Errorf("capture: acquire microphone: %w", err)
		}
	}
	frames, err := c.source.Start(ctx)
	if err != nil {
		c.release()
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	var lost <-chan struct{}
	if c.lock != nil {
		lost = c.lock.Lost()
	}
	go c.run(ctx, frames, lost, l, c.stop, c.done)
	return nil
}

// Stop implements Capturer.
func (c *Streaming) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	stop, done := c.stop, c.done
	c.running = false
	c.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (c *Streaming) release() {
	if c.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.lock.Release(ctx); err != nil {
		slog.Warn("capture: release microphone", "err", err)
	}
}

func (c *Streaming) sessionConfig() stt.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.cfg
	if len(c.keywords) > 0 {
		cfg.Keywords = c.keywords
	}
	return cfg
}

func (c *Streaming) run(ctx context.Context, frames <-chan audio.Frame, lost <-chan struct{}, l Listener, stop, done chan struct{}) {
	defer close(done)

	var (
		sess      stt.SessionHandle
		partials  <-chan stt.Transcript
		finals    <-chan stt.Transcript
		recording bool
	)
	closeSession := func() {
		if sess != nil {
			_ = sess.Close()
		}
		sess, partials, finals, recording = nil, nil, nil, false
	}
	shutdown := func() {
		closeSession()
		if err := c.source.Stop(); err != nil {
			slog.Warn("capture: stop microphone", "err", err)
		}
		audio.Drain(frames)
		c.release()
	}
	fail := func(err error) {
		shutdown()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		l(Event{Kind: Failed, Err: err})
	}
	// open starts a session unless paused. It reports false after a failure
	// that ended capture.
	open := func() bool {
		if sess != nil || c.Paused() {
			return true
		}
		h, err := c.provider.StartStream(ctx, c.sessionConfig())
		if err != nil {
			fail(fmt.Errorf("capture: start transcription: %w", err))
			return false
		}
		sess, partials, finals = h, h.Partials(), h.Finals()
		l(Event{Kind: ListeningStarted})
		return true
	}

	if !open() {
		return
	}
	for {
		select {
		case <-stop:
			shutdown()
			return

		case <-lost:
			slog.Warn("capture: microphone lease lost")
			fail(fmt.Errorf("%w: %w", ErrLeaseLost, miclock.ErrMicrophoneBusy))
			return

		case <-c.wake:
			if !open() {
				return
			}

		case f, ok := <-frames:
			if !ok {
				fail(ErrSourceClosed)
				return
			}
			if sess == nil {
				continue
			}
			data := f.Data
			if f.Channels > 1 {
				data = audio.Downmix(data, f.Channels)
			}
			if err := sess.SendAudio(data); err != nil {
				slog.Debug("capture: send audio", "err", err)
			}

		case _, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if !recording {
				recording = true
				l(Event{Kind: RecordingStarted})
			}

		case t, ok := <-finals:
			if !ok {
				slog.Debug("capture: transcription session ended, reopening")
				closeSession()
				if !open() {
					return
				}
				continue
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			if !recording {
				l(Event{Kind: RecordingStarted})
			}
			closeSession()
			l(Event{Kind: RecordingStopped})
			l(Event{Kind: UtteranceReady, Text: text})
			if !open() {
				return
			}
		}
	}
}
