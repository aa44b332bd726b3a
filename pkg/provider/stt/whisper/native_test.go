package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/stt/whisper"
)

// testModelPath returns the model used by native integration tests, read from
// WHISPER_MODEL_PATH. The test is skipped when unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestNewNative_InvalidPath(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path")
	}
}

func TestNative_SilenceYieldsNoText(t *testing.T) {
	n, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	// One second of silence at 48 kHz exercises the resampling path.
	text, err := n.Transcribe(context.Background(), audio.EncodeWAV(make([]byte, 96000), 48000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Logf("silence transcribed as %q", text)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNative_InvalidWAV(t *testing.T) {
	n, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	if _, err := n.Transcribe(context.Background(), []byte("nope")); !errors.Is(err, audio.ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}
