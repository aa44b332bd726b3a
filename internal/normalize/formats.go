package normalize

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Email joins spoken address parts, mapping connector words to symbols.
type Email struct{}

var emailWords = map[string]string{
	"at":         "@",
	"dot":        ".",
	"period":     ".",
	"underscore": "_",
	"dash":       "-",
	"hyphen":     "-",
	"plus":       "+",
}

func (Email) Name() string         { return "email" }
func (Email) Applies(f Field) bool { return f.Type == "email" }
func (Email) Normalize(value string, _ Field) string {
	var b strings.Builder
	for _, w := range strings.Fields(strings.ToLower(value)) {
		if sym, ok := emailWords[w]; ok {
			b.WriteString(sym)
			continue
		}
		b.WriteString(w)
	}
	return b.String()
}

// naturalParser wraps the english natural-language date parser.
type naturalParser struct {
	w *when.Parser
}

func newNaturalParser() *naturalParser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &naturalParser{w: w}
}

func (p *naturalParser) parse(text string, base time.Time) (time.Time, bool) {
	r, err := p.w.Parse(text, base)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	return r.Time, true
}

// Date converts relative and natural-language dates to YYYY-MM-DD, clamped
// to the field's bounds.
type Date struct {
	Now    func() time.Time
	parser *naturalParser
}

func (*Date) Name() string         { return "date" }
func (*Date) Applies(f Field) bool { return f.Type == "date" }

func (d *Date) Normalize(value string, f Field) string {
	now := d.Now()
	var t time.Time
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "today", "now":
		t = now
	case "tomorrow":
		t = now.AddDate(0, 0, 1)
	case "yesterday":
		t = now.AddDate(0, 0, -1)
	default:
		if parsed, err := time.Parse(dateLayout, strings.TrimSpace(value)); err == nil {
			t = parsed
			break
		}
		parsed, ok := d.parser.parse(value, now)
		if !ok {
			slog.Warn("normalize: unparseable date, passing through", "value", value)
			return value
		}
		t = parsed
	}
	return clamp(t, f, dateLayout).Format(dateLayout)
}

// Time converts spoken times to 24-hour HH:MM, clamped to the field's bounds.
type Time struct {
	Now    func() time.Time
	parser *naturalParser
}

func (*Time) Name() string         { return "time" }
func (*Time) Applies(f Field) bool { return f.Type == "time" }

func (tm *Time) Normalize(value string, f Field) string {
	now := tm.Now()
	var t time.Time
	if strings.EqualFold(strings.TrimSpace(value), "now") {
		t = now
	} else {
		parsed, ok := tm.parser.parse(value, now)
		if !ok {
			slog.Warn("normalize: unparseable time, passing through", "value", value)
			return value
		}
		t = parsed
	}
	clock := time.Date(0, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC)
	return clamp(clock, f, timeLayout).Format(timeLayout)
}

// clamp restricts t to the [Min, Max] bounds of f. Bounds that do not parse
// with layout are ignored. Dates compare on the calendar day only.
func clamp(t time.Time, f Field, layout string) time.Time {
	if layout == dateLayout {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	if lo, ok := parseBound(f.Min, layout); ok && t.Before(lo) {
		t = lo
	}
	if hi, ok := parseBound(f.Max, layout); ok && t.After(hi) {
		t = hi
	}
	return t
}

func parseBound(s, layout string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(layout, s); err == nil {
		if layout == timeLayout {
			return time.Date(0, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC), true
		}
		return t, true
	}
	if layout == timeLayout {
		if t, err := time.Parse("15:04:05", s); err == nil {
			return time.Date(0, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// Numeric extracts the first number from a spoken value.
type Numeric struct{}

var (
	thousandsSep = regexp.MustCompile(`(\d),(\d{3})\b`)
	andWord      = regexp.MustCompile(`(?i)\band\b`)
	numberLit    = regexp.MustCompile(`[-+]?(\d+(\.\d*)?|\.\d+)`)
)

func (Numeric) Name() string { return "numeric" }

func (Numeric) Applies(f Field) bool {
	switch f.Type {
	case "number", "range":
		return true
	}
	return f.InputMode == "numeric" || f.InputMode == "decimal"
}

func (Numeric) Normalize(value string, _ Field) string {
	s := andWord.ReplaceAllString(value, " ")
	for {
		next := thousandsSep.ReplaceAllString(s, "$1$2")
		if next == s {
			break
		}
		s = next
	}
	if m := numberLit.FindString(s); m != "" {
		return m
	}
	return value
}
