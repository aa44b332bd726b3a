package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attr returns the value of the attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the value of the attribute key, or def when it is absent.
func AttrOr(n *html.Node, key, def string) string {
	if v, ok := Attr(n, key); ok {
		return v
	}
	return def
}

// SetAttr sets the attribute key on n, replacing any existing value.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes the attribute key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// Text returns the concatenated text content of n and its descendants with
// whitespace collapsed.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		if c.Type == html.ElementNode && (c.DataAtom == atom.Script || c.DataAtom == atom.Style) {
			return
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Find returns every element below root (excluding root) for which keep
// returns true, in document order.
func Find(root *html.Node, keep func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && keep(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FindTag returns every descendant element of root with the given tag.
func FindTag(root *html.Node, tag atom.Atom) []*html.Node {
	return Find(root, func(n *html.Node) bool { return n.DataAtom == tag })
}

// Closest returns n or its nearest ancestor with the given tag.
func Closest(n *html.Node, tag atom.Atom) *html.Node {
	for c := n; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && c.DataAtom == tag {
			return c
		}
	}
	return nil
}

// Contains reports whether n is root or one of its descendants.
func Contains(root, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

// InputType returns the lower-cased type attribute of an input element, or
// "text" when it is absent.
func InputType(n *html.Node) string {
	return strings.ToLower(AttrOr(n, "type", "text"))
}

// IsCheckbox reports whether n is an <input type="checkbox">.
func IsCheckbox(n *html.Node) bool {
	return n != nil && n.DataAtom == atom.Input && InputType(n) == "checkbox"
}

// IsRadio reports whether n is an <input type="radio">.
func IsRadio(n *html.Node) bool {
	return n != nil && n.DataAtom == atom.Input && InputType(n) == "radio"
}

// IsSelect reports whether n is a native <select>.
func IsSelect(n *html.Node) bool {
	return n != nil && n.DataAtom == atom.Select
}

// IsTextField reports whether n accepts a typed value.
func IsTextField(n *html.Node) bool {
	if n == nil {
		return false
	}
	switch n.DataAtom {
	case atom.Textarea:
		return true
	case atom.Input:
		switch InputType(n) {
		case "checkbox", "radio", "button", "submit", "reset", "image", "file", "hidden":
			return false
		}
		return true
	}
	_, editable := Attr(n, "contenteditable")
	return editable
}

// IsFocusable reports whether n can receive keyboard focus.
func IsFocusable(n *html.Node) bool {
	if n == nil {
		return false
	}
	if _, disabled := Attr(n, "disabled"); disabled {
		return false
	}
	switch n.DataAtom {
	case atom.Input, atom.Select, atom.Textarea, atom.Button:
		return true
	case atom.A:
		_, ok := Attr(n, "href")
		return ok
	}
	_, ok := Attr(n, "tabindex")
	return ok
}

// IsHidden reports whether n is hidden through the hidden attribute,
// aria-hidden or an inline display:none.
func IsHidden(n *html.Node) bool {
	if _, ok := Attr(n, "hidden"); ok {
		return true
	}
	if strings.EqualFold(AttrOr(n, "aria-hidden", ""), "true") {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(AttrOr(n, "style", "")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// Value returns the current value of a form control.
func Value(n *html.Node) string {
	switch {
	case n == nil:
		return ""
	case n.DataAtom == atom.Textarea:
		if v, ok := Attr(n, "value"); ok {
			return v
		}
		return Text(n)
	case IsSelect(n):
		for _, o := range Options(n) {
			if _, ok := Attr(o, "selected"); ok {
				return OptionValue(o)
			}
		}
		if opts := Options(n); len(opts) > 0 {
			return OptionValue(opts[0])
		}
		return ""
	}
	return AttrOr(n, "value", "")
}

// Checked reports whether a checkbox or radio is checked.
func Checked(n *html.Node) bool {
	_, ok := Attr(n, "checked")
	return ok
}

// Options returns the <option> elements of a select.
func Options(sel *html.Node) []*html.Node {
	return FindTag(sel, atom.Option)
}

// OptionValue returns an option's value attribute, falling back to its text.
func OptionValue(o *html.Node) string {
	if v, ok := Attr(o, "value"); ok {
		return v
	}
	return Text(o)
}

// ElementIndex returns the 1-based position of n among its element siblings.
func ElementIndex(n *html.Node) int {
	i := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			i++
		}
	}
	return i
}

// Cells returns the <td>/<th> children of a table row.
func Cells(row *html.Node) []*html.Node {
	var out []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			out = append(out, c)
		}
	}
	return out
}
