package vad

// VADEvent is the detection result for a single audio frame.
type VADEvent struct {
	Type VADEventType

	// Probability is the speech score in [0, 1].
	Probability float64

	// Level is the raw measurement the decision was based on (RMS for the
	// energy engine).
	Level float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// IsSpeech reports whether the frame was classified as speech.
func (t VADEventType) IsSpeech() bool {
	return t == VADSpeechStart || t == VADSpeechContinue
}

func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
