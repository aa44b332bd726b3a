// Package dom models the host page as an HTML node tree.
//
// A [Document] is a parsed snapshot of the page produced with
// golang.org/x/net/html. Only elements carrying the voice label attribute are
// addressable by speech; sections, tables, native selects and radio groups
// give the resolver its structure. Side effects never touch a Document
// directly: they go through a [Host], which either drives a real browser or,
// for [Memory], mutates the same tree.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Default attribute names of the host page markup contract.
const (
	DefaultLabelAttr   = "data-voice-label"
	DefaultSectionAttr = "data-voice-section"
	DefaultGlobalAttr  = "data-voice-global"
)

// Markup names the attributes a host page uses to expose itself to voice
// control.
type Markup struct {
	// LabelAttr marks voice-addressable elements; its value is the label.
	LabelAttr string

	// SectionAttr marks top-level sections/tabs. The visible one scopes
	// single-target resolution.
	SectionAttr string

	// GlobalAttr marks navigation targets that are always resolved against
	// the whole document.
	GlobalAttr string
}

// DefaultMarkup returns the default attribute names.
func DefaultMarkup() Markup {
	return Markup{
		LabelAttr:   DefaultLabelAttr,
		SectionAttr: DefaultSectionAttr,
		GlobalAttr:  DefaultGlobalAttr,
	}
}

func (m Markup) withDefaults() Markup {
	d := DefaultMarkup()
	if m.LabelAttr == "" {
		m.LabelAttr = d.LabelAttr
	}
	if m.SectionAttr == "" {
		m.SectionAttr = d.SectionAttr
	}
	if m.GlobalAttr == "" {
		m.GlobalAttr = d.GlobalAttr
	}
	return m
}

// Document is a parsed page.
type Document struct {
	Root   *html.Node
	Markup Markup
}

// Parse reads an HTML document from r.
func Parse(r io.Reader, m Markup) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{Root: root, Markup: m.withDefaults()}, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string, m Markup) (*Document, error) {
	return Parse(strings.NewReader(s), m)
}

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() *html.Node {
	if b := FindTag(d.Root, atom.Body); len(b) > 0 {
		return b[0]
	}
	return d.Root
}

// Label returns the voice label of n, or "" when n is not addressable.
func (d *Document) Label(n *html.Node) string {
	v, _ := Attr(n, d.Markup.LabelAttr)
	return strings.TrimSpace(v)
}

// Labeled returns every voice-addressable element below scope.
func (d *Document) Labeled(scope *html.Node) []*html.Node {
	if scope == nil {
		scope = d.Root
	}
	return Find(scope, func(n *html.Node) bool { return d.Label(n) != "" })
}

// IsGlobal reports whether n is marked as a page-wide navigation target.
func (d *Document) IsGlobal(n *html.Node) bool {
	_, ok := Attr(n, d.Markup.GlobalAttr)
	return ok
}

// Sections returns every element marked as a top-level section.
func (d *Document) Sections() []*html.Node {
	return Find(d.Root, func(n *html.Node) bool {
		_, ok := Attr(n, d.Markup.SectionAttr)
		return ok
	})
}

// ActiveSection returns the currently visible top-level section, or nil when
// the page does not declare sections. A section explicitly marked active
// (aria-selected="true", aria-current or data-active) wins over the first
// visible one.
func (d *Document) ActiveSection() *html.Node {
	var firstVisible *html.Node
	for _, s := range d.Sections() {
		if hiddenWithin(s) {
			continue
		}
		if isMarkedActive(s) {
			return s
		}
		if firstVisible == nil {
			firstVisible = s
		}
	}
	return firstVisible
}

func isMarkedActive(n *html.Node) bool {
	if strings.EqualFold(AttrOr(n, "aria-selected", ""), "true") {
		return true
	}
	if v, ok := Attr(n, "aria-current"); ok && !strings.EqualFold(v, "false") {
		return true
	}
	_, ok := Attr(n, "data-active")
	return ok
}

func hiddenWithin(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && IsHidden(c) {
			return true
		}
	}
	return false
}

// Selects returns every native <select> on the page.
func (d *Document) Selects() []*html.Node {
	return FindTag(d.Root, atom.Select)
}

// RadioGroups returns the radio inputs of the page grouped by name, in order
// of first appearance. Unnamed radios are ignored.
func (d *Document) RadioGroups() (names []string, groups map[string][]*html.Node) {
	groups = make(map[string][]*html.Node)
	for _, r := range Find(d.Root, IsRadio) {
		name := AttrOr(r, "name", "")
		if name == "" {
			continue
		}
		if _, seen := groups[name]; !seen {
			names = append(names, name)
		}
		groups[name] = append(groups[name], r)
	}
	return names, groups
}

// Path returns a CSS selector that uniquely addresses n within the document,
// built from :nth-child steps. It is stable as long as the page structure
// does not change.
func Path(n *html.Node) string {
	var steps []string
	for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
		if c.Parent == nil || c.Parent.Type == html.DocumentNode {
			steps = append(steps, c.Data)
			break
		}
		steps = append(steps, c.Data+":nth-child("+strconv.Itoa(ElementIndex(c))+")")
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}

// Lookup resolves a selector produced by [Path].
func (d *Document) Lookup(path string) *html.Node {
	steps := strings.Split(path, " > ")
	var cur *html.Node
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == steps[0] {
			cur = c
			break
		}
	}
	for _, step := range steps[1:] {
		if cur == nil {
			return nil
		}
		tag, idx, ok := parseStep(step)
		if !ok {
			return nil
		}
		var next *html.Node
		i := 0
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			i++
			if i == idx {
				if c.Data == tag {
					next = c
				}
				break
			}
		}
		cur = next
	}
	return cur
}

func parseStep(step string) (string, int, bool) {
	tag, rest, ok := strings.Cut(step, ":nth-child(")
	if !ok {
		return "", 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSuffix(rest, ")"))
	if err != nil {
		return "", 0, false
	}
	return tag, idx, true
}

// Render serialises the document back to HTML.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.Root); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return buf.String(), nil
}
