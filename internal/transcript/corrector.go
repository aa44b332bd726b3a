// Package transcript repairs misheard voice labels in a transcript before
// intent recognition.
//
// Speech recognisers know nothing about the page, so a label such as
// "Zip code" often comes back as "sip coat". The [Corrector] first replaces
// word windows that sound like a label of the current page (package phonetic)
// and then, when configured, hands the words it could not place to a
// language model (package llmcorrect). Command words such as "fill" or
// "scroll" are never replaced.
package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxact/internal/transcript/llmcorrect"
	"github.com/MrWong99/voxact/internal/transcript/phonetic"
)

// Correction is one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64

	// Method is "phonetic" or "llm".
	Method string
}

// Result is the outcome of one correction pass.
type Result struct {
	Original    string
	Corrected   string
	Corrections []Correction
}

// DefaultProtectedWords are never replaced by a label.
var DefaultProtectedWords = []string{
	"a", "all", "and", "back", "by", "check", "choose", "click", "down",
	"fill", "for", "go", "in", "into", "is", "of", "on", "open", "out",
	"press", "row", "scroll", "select", "the", "then", "to", "type",
	"uncheck", "undo", "up", "where", "with", "zoom",
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// WithLLM enables the language model stage.
func WithLLM(l *llmcorrect.Corrector) Option {
	return func(c *Corrector) { c.llm = l }
}

// WithProtectedWords replaces DefaultProtectedWords.
func WithProtectedWords(words ...string) Option {
	return func(c *Corrector) { c.protected = wordSet(words) }
}

// Corrector is safe for concurrent use when its label function is.
type Corrector struct {
	labels    func() []string
	matcher   *phonetic.Matcher
	llm       *llmcorrect.Corrector
	protected map[string]struct{}
}

// New returns a Corrector that matches against the labels returned by
// labels at the time of each call.
func New(labels func() []string, opts ...Option) *Corrector {
	c := &Corrector{
		labels:    labels,
		matcher:   phonetic.New(),
		protected: wordSet(DefaultProtectedWords),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func wordSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[phonetic.Normalize(w)] = struct{}{}
	}
	return out
}

// Correct returns text with misheard labels replaced. Failures of the
// language model stage are logged and its result discarded.
func (c *Corrector) Correct(ctx context.Context, text string) string {
	res, err := c.Apply(ctx, text)
	if err != nil {
		slog.Warn("transcript: llm correction failed", "err", err)
	}
	return res.Corrected
}

// Apply runs both stages and reports every substitution. On a language
// model error the phonetic result is returned along with the error.
func (c *Corrector) Apply(ctx context.Context, text string) (Result, error) {
	res := Result{Original: text, Corrected: text, Corrections: []Correction{}}
	var labels []string
	if c.labels != nil {
		labels = c.labels()
	}
	if len(labels) == 0 || strings.TrimSpace(text) == "" {
		return res, nil
	}

	fixed, corrections, suspects := c.phonetic(text, phonetic.Prepare(labels))
	res.Corrected = fixed
	res.Corrections = append(res.Corrections, corrections...)

	if c.llm == nil || len(suspects) == 0 {
		return res, nil
	}
	out, llmCorrections, err := c.llm.Correct(ctx, fixed, labels, suspects)
	if err != nil {
		return res, err
	}
	res.Corrected = out
	for _, lc := range llmCorrections {
		res.Corrections = append(res.Corrections, Correction{
			Original:   lc.Original,
			Corrected:  lc.Corrected,
			Confidence: lc.Confidence,
			Method:     "llm",
		})
	}
	return res, nil
}

// phonetic replaces word windows that sound like a label. At each position
// the longest matching window wins, so "zip coat" becomes "Zip code" rather
// than leaving "coat" behind. Windows may be one word longer than the
// longest label to catch labels split in two by the recogniser. Unmatched,
// unprotected words of three or more letters are returned as suspects.
func (c *Corrector) phonetic(text string, vocab *phonetic.Vocabulary) (string, []Correction, []string) {
	tokens := strings.Fields(text)
	maxN := vocab.MaxWords() + 1

	var (
		out         []string
		corrections []Correction
		suspects    []string
	)
	for i := 0; i < len(tokens); {
		matched := false
		for n := min(maxN, len(tokens)-i); n >= 1; n-- {
			window := tokens[i : i+n]
			if c.anyProtected(window) {
				continue
			}
			phrase := strings.Join(window, " ")
			label, conf, ok := c.matcher.MatchPrepared(phrase, vocab, n)
			if !ok {
				continue
			}
			if phonetic.Normalize(phrase) == phonetic.Normalize(label) {
				out = append(out, window...)
			} else {
				out = append(out, strings.Fields(label+trailingPunct(window[n-1]))...)
				corrections = append(corrections, Correction{
					Original:   phrase,
					Corrected:  label,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			i += n
			matched = true
			break
		}
		if matched {
			continue
		}
		tok := tokens[i]
		if w := phonetic.Normalize(tok); len([]rune(w)) >= 3 && !c.isProtected(w) && !isNumber(w) {
			suspects = append(suspects, tok)
		}
		out = append(out, tok)
		i++
	}
	return strings.Join(out, " "), corrections, suspects
}

func (c *Corrector) isProtected(normalized string) bool {
	_, ok := c.protected[normalized]
	return ok
}

func (c *Corrector) anyProtected(window []string) bool {
	for _, w := range window {
		if c.isProtected(phonetic.Normalize(w)) {
			return true
		}
	}
	return false
}

func trailingPunct(tok string) string {
	trimmed := strings.TrimRight(tok, ".,;:!?")
	return tok[len(trimmed):]
}

func isNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
