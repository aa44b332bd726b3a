package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/stt"
)

// DefaultRetryDelay is the pause before reopening a failed transcription
// session.
const DefaultRetryDelay = time.Second

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithStreamConfig sets the transcription session configuration. The wake
// phrases are always added as keywords.
func WithStreamConfig(cfg stt.StreamConfig) ListenerOption {
	return func(l *Listener) { l.cfg = cfg }
}

// WithRetryDelay sets the pause before reopening a failed session.
func WithRetryDelay(d time.Duration) ListenerOption {
	return func(l *Listener) { l.retry = d }
}

// Listener transcribes the microphone continuously and calls back once per
// Start when a wake phrase is heard. It keeps listening after the callback
// until Stop; the owner is expected to stop it before opening the
// microphone for a session.
type Listener struct {
	source   audio.Source
	provider stt.Provider
	detector *Detector
	cfg      stt.StreamConfig
	retry    time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewListener returns a stopped listener.
func NewListener(src audio.Source, p stt.Provider, d *Detector, opts ...ListenerOption) *Listener {
	l := &Listener{
		source:   src,
		provider: p,
		detector: d,
		cfg:      stt.StreamConfig{SampleRate: audio.DefaultSampleRate, Channels: 1},
		retry:    DefaultRetryDelay,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Running reports whether the listener is active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start opens the microphone and begins listening. Starting a running
// listener is a no-op.
func (l *Listener) Start(ctx context.Context, onWake func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	frames, err := l.source.Start(ctx)
	if err != nil {
		return fmt.Errorf("wakeword: open microphone: %w", err)
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(ctx, frames, onWake, l.stop, l.done)
	slog.Debug("wakeword: listening", "phrases", l.detector.WakePhrases())
	return nil
}

// Stop releases the microphone and waits for the listener to finish.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (l *Listener) config() stt.StreamConfig {
	cfg := l.cfg
	cfg.Keywords = append([]stt.KeywordBoost(nil), cfg.Keywords...)
	for _, p := range l.detector.WakePhrases() {
		cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: p, Boost: 2})
	}
	return cfg
}

func (l *Listener) run(ctx context.Context, frames <-chan audio.Frame, onWake func(), stop, done chan struct{}) {
	defer close(done)

	var (
		sess     stt.SessionHandle
		partials <-chan stt.Transcript
		finals   <-chan stt.Transcript
		retry    <-chan time.Time
		fired    bool
	)
	open := func() {
		h, err := l.provider.StartStream(ctx, l.config())
		if err != nil {
			slog.Warn("wakeword: start transcription", "err", err)
			retry = time.After(l.retry)
			return
		}
		sess, partials, finals = h, h.Partials(), h.Finals()
	}
	closeSession := func() {
		if sess != nil {
			_ = sess.Close()
		}
		sess, partials, finals = nil, nil, nil
	}
	heard := func(t stt.Transcript) {
		if fired || !l.detector.IsWake(t.Text) {
			return
		}
		fired = true
		slog.Info("wakeword: wake phrase heard", "text", t.Text)
		onWake()
	}
	defer func() {
		closeSession()
		if err := l.source.Stop(); err != nil {
			slog.Warn("wakeword: stop microphone", "err", err)
		}
		audio.Drain(frames)
	}()

	open()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-retry:
			retry = nil
			open()
		case f, ok := <-frames:
			if !ok {
				slog.Warn("wakeword: microphone closed")
				select {
				case <-stop:
				case <-ctx.Done():
				}
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
				slog.Debug("wakeword: send audio", "err", err)
			}
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			heard(t)
		case t, ok := <-finals:
			if !ok {
				closeSession()
				open()
				continue
			}
			heard(t)
		}
	}
}
