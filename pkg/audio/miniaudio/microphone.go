// Package miniaudio captures microphone audio through miniaudio (malgo).
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxact/pkg/audio"
)

// Microphone is an [audio.Source] backed by the default capture device.
type Microphone struct {
	sampleRate int
	periodSize uint32
	buffer     int

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan audio.Frame
	started time.Time
	stop    context.CancelFunc
	done    chan struct{}
}

var _ audio.Source = (*Microphone)(nil)

// Option configures a Microphone.
type Option func(*Microphone)

// WithSampleRate sets the capture rate. Defaults to [audio.DefaultSampleRate].
func WithSampleRate(hz int) Option {
	return func(m *Microphone) { m.sampleRate = hz }
}

// WithPeriodSize sets the device period in frames. Defaults to 480 (30 ms at
// 16 kHz).
func WithPeriodSize(frames uint32) Option {
	return func(m *Microphone) { m.periodSize = frames }
}

// New returns a Microphone. The device is opened lazily by Start.
func New(opts ...Option) *Microphone {
	m := &Microphone{
		sampleRate: audio.DefaultSampleRate,
		periodSize: 480,
		buffer:     64,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start opens the capture device and streams mono 16-bit frames until Stop
// or ctx cancellation.
func (m *Microphone) Start(ctx context.Context) (<-chan audio.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil, fmt.Errorf("miniaudio: microphone already started")
	}

	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio: backend", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.Capture.Format = format
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = m.periodSize
	cfg.Periods = 3

	frames := make(chan audio.Frame, m.buffer)
	m.started = time.Now()
	started := m.started
	rate := m.sampleRate

	device, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(in) < n {
				return
			}
			data := make([]byte, n)
			copy(data, in[:n])
			select {
			case frames <- audio.Frame{Data: data, SampleRate: rate, Channels: 1, Timestamp: time.Since(started)}:
			default:
				// Consumer is behind; drop rather than block the audio thread.
			}
		},
	})
	if err != nil {
		_ = actx.Uninit()
		actx.Free()
		return nil, classify("init device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = actx.Uninit()
		actx.Free()
		return nil, classify("start device", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.ctx, m.device, m.frames, m.stop = actx, device, frames, cancel
	m.done = make(chan struct{})
	done := m.done

	go func() {
		<-runCtx.Done()
		m.release()
		close(done)
	}()
	slog.Info("miniaudio: microphone started", "sample_rate", m.sampleRate)
	return frames, nil
}

// Stop releases the device and closes the frame channel.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	<-done
	return nil
}

func (m *Microphone) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return
	}
	if err := m.device.Stop(); err != nil {
		slog.Warn("miniaudio: stop device", "err", err)
	}
	m.device.Uninit()
	_ = m.ctx.Uninit()
	m.ctx.Free()
	close(m.frames)
	m.device, m.ctx, m.frames, m.stop = nil, nil, nil, nil
	slog.Info("miniaudio: microphone stopped")
}

func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("miniaudio: %s: %w: %v", op, audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("miniaudio: %s: %w", op, err)
}
