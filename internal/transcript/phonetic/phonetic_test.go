package phonetic_test

import (
	"testing"

	"github.com/MrWong99/voxact/internal/transcript/phonetic"
)

var labels = []string{"Address", "Email", "Zip code", "Country"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phrase  string
		want    string
		matched bool
	}{
		{"adress", "Address", true},
		{"ADDRESS", "Address", true},
		{"e mail", "Email", true},
		{"zip coat", "Zip code", true},
		{"hello", "hello", false},
		{"", "", false},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tt.phrase, labels)
			if ok != tt.matched || got != tt.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.phrase, got, ok, tt.want, tt.matched)
			}
			if !ok && conf != 0 {
				t.Errorf("confidence = %f for a miss, want 0", conf)
			}
			if ok && conf < 0.7 {
				t.Errorf("confidence = %f, want >= 0.7", conf)
			}
		})
	}
}

func TestMatcher_ExactMatchHasFullConfidence(t *testing.T) {
	t.Parallel()

	_, conf, ok := phonetic.New().Match("country", labels)
	if !ok || conf < 0.999 {
		t.Errorf("Match(country) ok=%v conf=%f, want exact", ok, conf)
	}
}

func TestMatcher_ShortTermIsNotAPrefixMatch(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"Name"})
	if got, _, ok := phonetic.New().MatchPrepared("name with", v, 2); ok {
		t.Errorf("MatchPrepared(name with) = %q, want no match", got)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, ok := m.Match("zip coat", labels); ok {
		t.Error("a near match must be rejected at threshold 0.99")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	got, conf, ok := phonetic.New().Match("email", nil)
	if ok || got != "email" || conf != 0 {
		t.Errorf("Match with no terms = %q, %f, %v", got, conf, ok)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"Zip code", "  ", "Date of birth"})
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2 (blank skipped)", v.Len())
	}
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords = %d, want 3", v.MaxWords())
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hey, Voxa!":       "hey voxa",
		"  Zip-Code  ":     "zip code",
		"Straße 12":        "straße 12",
		"...":              "",
		"stop   listening": "stop listening",
	}
	for in, want := range tests {
		if got := phonetic.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
