package stt

import "time"

// Transcript is a speech-to-text result. Both partial and final results use
// this type.
type Transcript struct {
	Text string

	// IsFinal distinguishes committed results from interim guesses.
	IsFinal bool

	// Confidence in [0, 1]; zero when the provider does not report it.
	Confidence float64

	// Words holds per-word detail when the provider supplies it.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint with a provider-specific intensity.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
