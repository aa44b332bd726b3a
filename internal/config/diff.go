package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	SilenceDelayChanged bool
	NewSilenceDelay     time.Duration

	// PhrasesChanged is true when wake or stop phrases differ.
	PhrasesChanged bool
	WakePhrases    []string
	StopPhrases    []string

	// RestartRequired lists top-level sections that changed in ways that
	// are not applied live.
	RestartRequired []string
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdChanged && !d.SilenceDelayChanged && !d.PhrasesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Capture.SpeechThreshold != new.Capture.SpeechThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Capture.SpeechThreshold
	}
	if old.Capture.SilenceDelay != new.Capture.SilenceDelay {
		d.SilenceDelayChanged = true
		d.NewSilenceDelay = new.Capture.SilenceDelay
	}
	if !phrasesEqual(old.Voice.WakePhrases, new.Voice.WakePhrases) ||
		!phrasesEqual(old.Voice.StopPhrases, new.Voice.StopPhrases) {
		d.PhrasesChanged = true
		d.WakePhrases = new.Voice.WakePhrases
		d.StopPhrases = new.Voice.StopPhrases
	}

	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Capture.Mode != new.Capture.Mode || old.Capture.PreRoll != new.Capture.PreRoll ||
		old.Capture.SampleRate != new.Capture.SampleRate {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Browser != new.Browser {
		d.RestartRequired = append(d.RestartRequired, "browser")
	}
	if old.Microphone != new.Microphone {
		d.RestartRequired = append(d.RestartRequired, "microphone")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	return d
}

// phrasesEqual treats nil (built-in defaults) and empty (disabled) as
// different.
func phrasesEqual(a, b []string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return slices.Equal(a, b)
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.Transcriber, b.Transcriber) &&
		entryEqual(a.STT, b.STT) &&
		entryEqual(a.VAD, b.VAD) &&
		entryEqual(a.Audio, b.Audio) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		slices.EqualFunc(a.TranscriberFallbacks, b.TranscriberFallbacks, entryEqual) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual)
}

// entryEqual ignores Options; provider-specific tuning is picked up on the
// next restart along with everything else.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
