package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxact/internal/miclock"
	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/vad"
)

// VAD records utterances using local voice activity detection.
//
// While idle, the most recent PreRoll worth of audio is kept in a ring so the
// first syllable is not clipped. A speech frame starts a recording. A
// non-speech frame during a recording arms the silence timer and any speech
// frame disarms it. When the timer fires, pre-roll and recording are encoded
// as one WAV and both buffers are cleared.
type VAD struct {
	source  audio.Source
	engine  vad.Engine
	vadCfg  vad.Config
	lock    Lock
	preRoll time.Duration

	silenceDelay atomic.Int64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

var _ Capturer = (*VAD)(nil)

// VADOption configures a VAD capturer.
type VADOption func(*VAD)

// WithPreRoll sets how much audio before speech onset is kept.
func WithPreRoll(d time.Duration) VADOption {
	return func(c *VAD) { c.preRoll = d }
}

// WithSilenceDelay sets how long the speaker must stay silent before the
// utterance is finalised.
func WithSilenceDelay(d time.Duration) VADOption {
	return func(c *VAD) { c.silenceDelay.Store(int64(d)) }
}

// WithVADConfig overrides the configuration passed to the VAD engine.
func WithVADConfig(cfg vad.Config) VADOption {
	return func(c *VAD) { c.vadCfg = cfg }
}

// WithLock guards the microphone with l. Without a lock the capturer assumes
// exclusive access.
func WithLock(l Lock) VADOption {
	return func(c *VAD) { c.lock = l }
}

// NewVAD returns a capturer reading from src and deciding speech with eng.
func NewVAD(src audio.Source, eng vad.Engine, opts ...VADOption) *VAD {
	c := &VAD{
		source:  src,
		engine:  eng,
		preRoll: DefaultPreRoll,
		vadCfg: vad.Config{
			SampleRate:  audio.DefaultSampleRate,
			FrameSizeMs: 20,
		},
	}
	c.silenceDelay.Store(int64(DefaultSilenceDelay))
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetSilenceDelay changes the silence delay. It takes effect the next time
// the timer is armed.
func (c *VAD) SetSilenceDelay(d time.Duration) {
	if d > 0 {
		c.silenceDelay.Store(int64(d))
	}
}

// SilenceDelay returns the current silence delay.
func (c *VAD) SilenceDelay() time.Duration {
	return time.Duration(c.silenceDelay.Load())
}

// Running reports whether capture is active.
func (c *VAD) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start implements Capturer.
func (c *VAD) Start(ctx context.Context, l Listener) error {
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
	sess, err := c.engine.NewSession(c.vadCfg)
	if err != nil {
		c.release()
		return fmt.Errorf("capture: open vad session: %w", err)
	}
	frames, err := c.source.Start(ctx)
	if err != nil {
		_ = sess.Close()
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
	go c.run(frames, sess, lost, l, c.stop, c.done)
	slog.Debug("capture: vad started")
	return nil
}

// Stop implements Capturer.
func (c *VAD) Stop() error {
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

func (c *VAD) release() {
	if c.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.lock.Release(ctx); err != nil {
		slog.Warn("capture: release microphone", "err", err)
	}
}

// recorder holds the buffers of one capture run. It is owned by the run
// goroutine.
type recorder struct {
	preRoll    time.Duration
	ring       []audio.Frame
	ringDur    time.Duration
	main       []byte
	sampleRate int
	recording  bool
}

func (r *recorder) remember(f audio.Frame) {
	r.ring = append(r.ring, f)
	r.ringDur += f.Duration()
	for len(r.ring) > 1 && r.ringDur > r.preRoll {
		r.ringDur -= r.ring[0].Duration()
		r.ring = r.ring[1:]
	}
}

func (r *recorder) wav() []byte {
	var pcm []byte
	for _, f := range r.ring {
		pcm = append(pcm, f.Data...)
	}
	pcm = append(pcm, r.main...)
	return audio.EncodeWAV(pcm, r.sampleRate)
}

func (r *recorder) clear() {
	r.ring = nil
	r.ringDur = 0
	r.main = nil
	r.recording = false
}

func (c *VAD) run(frames <-chan audio.Frame, sess vad.SessionHandle, lost <-chan struct{}, l Listener, stop, done chan struct{}) {
	defer close(done)

	rec := &recorder{preRoll: c.preRoll, sampleRate: c.vadCfg.SampleRate}
	var (
		timer   *time.Timer
		silence <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer, silence = nil, nil
		}
	}
	finalize := func() {
		disarm()
		if !rec.recording {
			return
		}
		wav := rec.wav()
		rec.clear()
		sess.Reset()
		l(Event{Kind: RecordingStopped})
		l(Event{Kind: UtteranceReady, WAV: wav})
	}
	shutdown := func() {
		finalize()
		if err := c.source.Stop(); err != nil {
			slog.Warn("capture: stop microphone", "err", err)
		}
		audio.Drain(frames)
		_ = sess.Close()
		c.release()
	}
	fail := func(err error) {
		shutdown()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		l(Event{Kind: Failed, Err: err})
	}

	l(Event{Kind: ListeningStarted})
	for {
		select {
		case <-stop:
			shutdown()
			return

		case <-lost:
			slog.Warn("capture: microphone lease lost")
			fail(fmt.Errorf("%w: %w", ErrLeaseLost, miclock.ErrMicrophoneBusy))
			return

		case <-silence:
			timer, silence = nil, nil
			finalize()

		case f, ok := <-frames:
			if !ok {
				fail(ErrSourceClosed)
				return
			}
			if f.Channels > 1 {
				f.Data = audio.Downmix(f.Data, f.Channels)
				f.Channels = 1
			}
			if f.SampleRate > 0 {
				rec.sampleRate = f.SampleRate
			}

			ev, err := sess.ProcessFrame(f.Data)
			if err != nil {
				slog.Warn("capture: vad frame", "err", err)
				continue
			}
			switch {
			case ev.Type.IsSpeech():
				disarm()
				if !rec.recording {
					rec.recording = true
					rec.main = rec.main[:0]
					l(Event{Kind: RecordingStarted})
				}
				rec.main = append(rec.main, f.Data...)
			case rec.recording:
				rec.main = append(rec.main, f.Data...)
				if timer == nil {
					timer = time.NewTimer(c.SilenceDelay())
					silence = timer.C
				}
			default:
				rec.remember(f)
			}
		}
	}
}
