package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/stt"
)

// modelSampleRate is the rate whisper.cpp models are trained on.
const modelSampleRate = 16000

// NativeOption configures a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the recognition language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// Native is an stt.Transcriber that runs whisper.cpp in-process. The model is
// loaded once; each Transcribe call creates its own context, so calls may run
// concurrently.
type Native struct {
	model    whisperlib.Model
	language string

	closeOnce sync.Once
}

var _ stt.Transcriber = (*Native)(nil)

// NewNative loads the ggml model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the model. Calling Close more than once is safe.
func (n *Native) Close() error {
	var err error
	n.closeOnce.Do(func() { err = n.model.Close() })
	return err
}

// Transcribe decodes wav, converts it to 16 kHz mono and runs inference.
// Cancellation is checked before the (uninterruptible) inference starts.
func (n *Native) Transcribe(ctx context.Context, wav []byte) (string, error) {
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	samples := pcmToFloat32(audio.ToMono16(pcm, format, modelSampleRate))
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		parts = append(parts, segment.Text)
	}
	return cleanText(strings.Join(parts, " ")), nil
}
