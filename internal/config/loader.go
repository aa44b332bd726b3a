package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"transcriber": {"whisper", "whisper-native", "openai"},
	"stt":         {"deepgram"},
	"vad":         {"energy"},
	"audio":       {"miniaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are replaced with the value of the environment variable
// VAR before decoding. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data, err = expandEnv(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references. A bare $ is left alone so that
// secrets containing dollar signs survive. Unset variables are an error.
func expandEnv(data []byte) ([]byte, error) {
	var missing []error
	out := envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, fmt.Errorf("config: environment variable %s is not set", name))
			return m
		}
		return []byte(v)
	})
	return out, errors.Join(missing...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if lf := cfg.Server.LogFile; lf != nil && lf.Path == "" {
		errs = append(errs, errors.New("server.log_file.path is required when log_file is set"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Unknown provider names only warn; a registry may add them later.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	for _, fb := range cfg.Providers.TranscriberFallbacks {
		validateProviderName("transcriber", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required for intent recognition"))
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks require providers.llm"))
	}
	if len(cfg.Providers.TranscriberFallbacks) > 0 && cfg.Providers.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber_fallbacks require providers.transcriber"))
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks require providers.stt"))
	}

	// Capture ↔ provider cross-validation
	mode := cfg.Capture.Mode
	if mode != "" && !mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: vad, streaming", mode))
	}
	switch mode {
	case CaptureStreaming:
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("capture.mode streaming requires providers.stt"))
		}
	default:
		if cfg.Providers.Transcriber.Name == "" {
			errs = append(errs, errors.New("capture.mode vad requires providers.transcriber"))
		}
	}
	if cfg.Capture.SpeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.speech_threshold %.1f must not be negative", cfg.Capture.SpeechThreshold))
	}
	if cfg.Capture.SilenceDelay < 0 || cfg.Capture.PreRoll < 0 {
		errs = append(errs, errors.New("capture.silence_delay and capture.pre_roll must not be negative"))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}

	// Voice
	if cfg.Voice.WakeWord && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("voice.wake_word requires providers.stt"))
	}
	for i, p := range cfg.Voice.WakePhrases {
		if p == "" {
			errs = append(errs, fmt.Errorf("voice.wake_phrases[%d] is empty", i))
		}
	}
	for i, p := range cfg.Voice.StopPhrases {
		if p == "" {
			errs = append(errs, fmt.Errorf("voice.stop_phrases[%d] is empty", i))
		}
	}
	if cfg.Voice.WakeWord && cfg.Voice.WakePhrases != nil && len(cfg.Voice.WakePhrases) == 0 {
		slog.Warn("voice.wake_word is enabled but voice.wake_phrases is empty; the listener will never fire")
	}

	// Session and actuator
	if cfg.Session.ErrorReset < 0 || cfg.Session.IntentDelay < 0 {
		errs = append(errs, errors.New("session durations must not be negative"))
	}
	if cfg.Actuator.ScrollStep < 0 {
		errs = append(errs, fmt.Errorf("actuator.scroll_step %d must not be negative", cfg.Actuator.ScrollStep))
	}
	if cfg.Actuator.ZoomStep < 0 || cfg.Actuator.ZoomStep > 1 {
		errs = append(errs, fmt.Errorf("actuator.zoom_step %.2f is out of range [0, 1]", cfg.Actuator.ZoomStep))
	}
	if cfg.Actuator.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("actuator.history_limit %d must not be negative", cfg.Actuator.HistoryLimit))
	}

	// Browser
	if cfg.Browser.Width < 0 || cfg.Browser.Height < 0 {
		errs = append(errs, errors.New("browser.width and browser.height must not be negative"))
	}

	// Microphone
	if b := cfg.Microphone.Bus; b != "" && !b.IsValid() {
		errs = append(errs, fmt.Errorf("microphone.bus %q is invalid; valid values: memory, redis", b))
	}
	if cfg.Microphone.Bus == MicBusRedis && cfg.Microphone.Redis.Addr == "" {
		errs = append(errs, errors.New("microphone.redis.addr is required when microphone.bus is redis"))
	}
	m := cfg.Microphone
	if m.StaleAfter > 0 && m.HeartbeatInterval > 0 && m.StaleAfter <= m.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("microphone.stale_after %s must exceed heartbeat_interval %s", m.StaleAfter, m.HeartbeatInterval))
	}

	// Journal
	if cfg.Journal.MemorySize < 0 {
		errs = append(errs, fmt.Errorf("journal.memory_size %d must not be negative", cfg.Journal.MemorySize))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
