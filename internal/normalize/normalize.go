// Package normalize adapts spoken values to the format a form control
// expects.
//
// A [Chain] holds an ordered list of [Normalizer] strategies. For a given
// field exactly one applies, in the fixed precedence email, date, time,
// numeric; when none applies the value passes through unchanged. Normalizers
// are fail-soft: a value they cannot interpret is returned as spoken.
package normalize

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/MrWong99/voxact/internal/dom"
)

// Field describes the declared format of the target control.
type Field struct {
	// Type is the lower-cased input type attribute ("email", "date", ...).
	Type string

	// InputMode is the lower-cased inputmode attribute.
	InputMode string

	// Min and Max are the raw bounds attributes, if declared.
	Min string
	Max string
}

// FieldOf reads the format attributes of n.
func FieldOf(n *html.Node) Field {
	f := Field{
		InputMode: strings.ToLower(dom.AttrOr(n, "inputmode", "")),
		Min:       dom.AttrOr(n, "min", ""),
		Max:       dom.AttrOr(n, "max", ""),
	}
	if n != nil && n.Data == "input" {
		f.Type = dom.InputType(n)
	}
	return f
}

// Normalizer converts a spoken value into one field format.
type Normalizer interface {
	// Name identifies the normalizer in logs.
	Name() string

	// Applies reports whether the normalizer handles fields like f.
	Applies(f Field) bool

	// Normalize converts value. It returns value unchanged when it cannot
	// be interpreted.
	Normalize(value string, f Field) string
}

// Chain applies the first matching normalizer.
type Chain struct {
	normalizers []Normalizer
}

// Option configures the default chain.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithNow overrides the clock used for relative dates and times.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewChain returns the default chain: email, date, time, numeric.
func NewChain(opts ...Option) *Chain {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	parser := newNaturalParser()
	return &Chain{normalizers: []Normalizer{
		Email{},
		&Date{Now: o.now, parser: parser},
		&Time{Now: o.now, parser: parser},
		Numeric{},
	}}
}

// NewCustomChain returns a chain with the given normalizers, tried in order.
func NewCustomChain(ns ...Normalizer) *Chain {
	return &Chain{normalizers: ns}
}

// Normalize converts value for f. The second return value names the
// normalizer that applied, or "" for pass-through.
func (c *Chain) Normalize(value string, f Field) (string, string) {
	for _, n := range c.normalizers {
		if n.Applies(f) {
			return n.Normalize(value, f), n.Name()
		}
	}
	return value, ""
}

// NormalizeFor is a convenience wrapper reading the field from n.
func (c *Chain) NormalizeFor(n *html.Node, value string) (string, string) {
	return c.Normalize(value, FieldOf(n))
}
