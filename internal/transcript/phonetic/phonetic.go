// Package phonetic finds the known term that a misheard phrase most likely
// stands for.
//
// Candidates are found in two passes. A term whose Double Metaphone codes
// share a code with the phrase is a phonetic candidate and is accepted when
// its Jaro-Winkler similarity reaches the phonetic threshold (0.70 by
// default). Without any phonetic candidate, a term is accepted on
// Jaro-Winkler similarity alone when it reaches the fuzzy threshold (0.85 by
// default).
//
// Similarity is computed on the full lowercase strings and on the strings
// with spaces removed, so "e mail" finds "Email" and "zip coat" finds
// "Zip code". Terms whose length differs from the phrase by more than
// MaxLengthRatio are never considered; without this guard a short term would
// match every phrase it is a prefix of.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// MaxLengthRatio bounds how much shorter one side may be than the
	// other, measured without spaces.
	MaxLengthRatio = 0.6
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity when no phonetic candidate
// exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type term struct {
	text    string
	lower   string
	compact string
	words   int
	codes   map[string]struct{}
}

// Vocabulary is a set of terms with their phonetic codes computed once.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare computes the phonetic codes of terms. Blank terms are skipped.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make([]term, 0, len(terms))}
	for _, t := range terms {
		lower := Normalize(t)
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			text:    strings.TrimSpace(t),
			lower:   lower,
			compact: strings.Join(tokens, ""),
			words:   len(tokens),
			codes:   codes(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match returns the term of terms that phrase most likely stands for. When
// nothing matches, corrected is phrase and confidence is 0.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(phrase, Prepare(terms), 0)
}

// MatchPrepared is Match against a prepared vocabulary. When words is
// positive, only terms with that many words (plus or minus one, compared
// without spaces) are considered.
func (m *Matcher) MatchPrepared(phrase string, v *Vocabulary, words int) (corrected string, confidence float64, matched bool) {
	lower := Normalize(phrase)
	if lower == "" || v == nil || len(v.terms) == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	compact := strings.Join(tokens, "")
	inputCodes := codes(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		sameWords := words <= 0 || t.words == words
		if !sameWords && (t.words < words-1 || t.words > words+1) {
			continue
		}
		if !comparableLength(compact, t.compact) {
			continue
		}

		score := matchr.JaroWinkler(compact, t.compact, false)
		if sameWords {
			score = max(score, matchr.JaroWinkler(lower, t.lower, false))
		}

		if sameWords && overlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.text, score, true
			}
			continue
		}
		// Neighbouring word counts are accepted on spelling alone.
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}

	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// Normalize lowercases s and replaces everything but letters and digits
// with single spaces.
func Normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Codes returns the Double Metaphone codes of every token.
func Codes(tokens []string) map[string]struct{} { return codes(tokens) }

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

func comparableLength(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return false
	}
	return float64(min(la, lb))/float64(max(la, lb)) >= MaxLengthRatio
}
