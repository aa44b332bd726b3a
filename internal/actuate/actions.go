package actuate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/match"
	"github.com/MrWong99/voxact/internal/resolve"
	"github.com/MrWong99/voxact/pkg/types"
)

// optionMinScore is the minimum score for a dropdown option to be selected.
const optionMinScore = 60

// maxOpenSize caps the visible rows of a force-opened native select.
const maxOpenSize = 10

func (a *Actuator) dispatch(ctx context.Context, n *html.Node, events ...string) error {
	for _, ev := range events {
		if err := a.host.Dispatch(ctx, n, ev); err != nil {
			return fmt.Errorf("actuate: dispatch %s: %w", ev, err)
		}
	}
	return nil
}

func (a *Actuator) click(ctx context.Context, _ types.Intent, pe resolve.ProcessedEntities) (bool, error) {
	if pe.Target == nil {
		return false, nil
	}
	if err := a.host.Click(ctx, pe.Target); err != nil {
		return false, fmt.Errorf("actuate: click: %w", err)
	}
	return true, nil
}

func (a *Actuator) fill(ctx context.Context, in types.Intent, pe resolve.ProcessedEntities) (bool, error) {
	n := pe.Target
	if !dom.IsTextField(n) {
		if inner := dom.Find(n, dom.IsTextField); len(inner) > 0 {
			n = inner[0]
		} else {
			return false, nil
		}
	}
	value := in.Entities.Text(types.RoleValue)
	if normalized, by := a.normalizer.NormalizeFor(n, value); by != "" {
		slog.Debug("actuate: value normalized", "normalizer", by, "from", value, "to", normalized)
		value = normalized
	}

	previous := dom.Value(n)
	if err := a.host.SetValue(ctx, n, value); err != nil {
		return false, fmt.Errorf("actuate: set value: %w", err)
	}
	if err := a.dispatch(ctx, n, dom.EventInput, dom.EventChange); err != nil {
		return false, err
	}
	a.hist.push(HistoryEntry{
		Kind:          HistoryValue,
		TargetID:      dom.Path(n),
		TargetLabel:   pe.TargetName,
		PreviousValue: previous,
	})
	return true, nil
}

// checkboxOf returns n when it is a checkbox, or its only checkbox
// descendant.
func checkboxOf(n *html.Node) *html.Node {
	if dom.IsCheckbox(n) {
		return n
	}
	if inner := dom.Find(n, dom.IsCheckbox); len(inner) == 1 {
		return inner[0]
	}
	return nil
}

// toggle sets a checkbox to want. It reports whether the state changed.
func (a *Actuator) toggle(ctx context.Context, doc labeler, n *html.Node, want bool) (bool, error) {
	if dom.Checked(n) == want {
		return false, nil
	}
	if err := a.host.SetChecked(ctx, n, want); err != nil {
		return false, fmt.Errorf("actuate: set checked: %w", err)
	}
	if err := a.dispatch(ctx, n, dom.EventChange); err != nil {
		return false, err
	}
	a.hist.push(HistoryEntry{
		Kind:            HistoryChecked,
		TargetID:        dom.Path(n),
		TargetLabel:     doc.Label(n),
		PreviousChecked: !want,
	})
	return true, nil
}

type labeler interface {
	Label(*html.Node) string
}

func (a *Actuator) checkbox(want bool) action {
	return func(ctx context.Context, _ types.Intent, pe resolve.ProcessedEntities) (bool, error) {
		box := checkboxOf(pe.Target)
		if box == nil {
			return false, nil
		}
		doc, err := a.host.Document(ctx)
		if err != nil {
			return false, fmt.Errorf("actuate: snapshot page: %w", err)
		}
		if _, err := a.toggle(ctx, labelOr(doc, pe.TargetName), box, want); err != nil {
			return false, err
		}
		return true, nil
	}
}

func (a *Actuator) bulkCheckbox(want bool) action {
	return func(ctx context.Context, _ types.Intent, pe resolve.ProcessedEntities) (bool, error) {
		doc, err := a.host.Document(ctx)
		if err != nil {
			return false, fmt.Errorf("actuate: snapshot page: %w", err)
		}
		var toggled int
		for _, t := range pe.Targets {
			box := checkboxOf(t)
			if box == nil {
				continue
			}
			changed, err := a.toggle(ctx, doc, box, want)
			if err != nil {
				return false, err
			}
			if changed {
				toggled++
			}
		}
		return toggled > 0, nil
	}
}

// fixedLabel labels every node with the resolved target name, falling back to
// the document label.
type fixedLabel struct {
	doc  *dom.Document
	name string
}

func (f fixedLabel) Label(n *html.Node) string {
	if f.name != "" {
		return f.name
	}
	return f.doc.Label(n)
}

func labelOr(doc *dom.Document, name string) labeler {
	return fixedLabel{doc: doc, name: name}
}

func (a *Actuator) selectOption(ctx context.Context, in types.Intent, pe resolve.ProcessedEntities) (bool, error) {
	switch {
	case dom.IsRadio(pe.Target):
		if dom.Checked(pe.Target) {
			return true, nil
		}
		if err := a.host.SetChecked(ctx, pe.Target, true); err != nil {
			return false, fmt.Errorf("actuate: check radio: %w", err)
		}
		return true, a.dispatch(ctx, pe.Target, dom.EventChange)
	case dom.IsSelect(pe.Target):
		name := pe.TargetName
		if name == "" {
			name = in.Entities.Text(types.RoleTarget)
		}
		opt := bestOption(pe.Target, name)
		if opt == nil {
			return false, nil
		}
		previous := dom.Value(pe.Target)
		if err := a.host.SetValue(ctx, pe.Target, dom.OptionValue(opt)); err != nil {
			return false, fmt.Errorf("actuate: select option: %w", err)
		}
		if err := a.dispatch(ctx, pe.Target, dom.EventInput, dom.EventChange); err != nil {
			return false, err
		}
		doc, err := a.host.Document(ctx)
		if err != nil {
			return false, fmt.Errorf("actuate: snapshot page: %w", err)
		}
		a.hist.push(HistoryEntry{
			Kind:          HistoryValue,
			TargetID:      dom.Path(pe.Target),
			TargetLabel:   doc.Label(pe.Target),
			PreviousValue: previous,
		})
		return true, nil
	}
	return false, nil
}

// bestOption returns the option of sel that best matches name. An exact text
// or value match wins immediately; otherwise the best option must reach
// optionMinScore.
func bestOption(sel *html.Node, name string) *html.Node {
	want := match.Normalize(name)
	var best *html.Node
	var bestScore float64
	for _, o := range dom.Options(sel) {
		text, value := dom.Text(o), dom.OptionValue(o)
		if match.Normalize(text) == want || match.Normalize(value) == want {
			return o
		}
		sc := max(match.Score(text, name), match.Score(value, name))
		if best == nil || sc > bestScore {
			best, bestScore = o, sc
		}
	}
	if bestScore < optionMinScore {
		return nil
	}
	return best
}

func (a *Actuator) openDropdown(ctx context.Context, _ types.Intent, pe resolve.ProcessedEntities) (bool, error) {
	if pe.Target == nil {
		return false, nil
	}
	sel := pe.Target
	if !dom.IsSelect(sel) {
		if inner := dom.Find(sel, dom.IsSelect); len(inner) == 1 {
			sel = inner[0]
		}
	}
	if dom.IsSelect(sel) {
		return a.forceOpen(ctx, sel)
	}

	trigger := pe.Target
	if inner := dom.Find(pe.Target, isDropdownTrigger); len(inner) > 0 {
		trigger = inner[0]
	}
	if err := a.host.Click(ctx, trigger); err != nil {
		return false, fmt.Errorf("actuate: open dropdown: %w", err)
	}
	return true, nil
}

func isDropdownTrigger(n *html.Node) bool {
	if _, ok := dom.Attr(n, "aria-haspopup"); ok {
		return true
	}
	switch strings.ToLower(dom.AttrOr(n, "role", "")) {
	case "combobox", "button":
		return true
	}
	return n.Data == "button"
}

// pendingRevert closes a force-opened select when its timer fires.
type pendingRevert struct {
	timer *time.Timer
	run   func(context.Context)
}

// forceOpen focuses a native select and sets its size so the options are
// visible, reverting the size after the configured delay. A select still
// open from an earlier command is closed first.
func (a *Actuator) forceOpen(ctx context.Context, sel *html.Node) (bool, error) {
	if p := a.revert; p != nil && p.timer.Stop() {
		a.revert = nil
		p.run(ctx)
	}
	if err := a.host.Focus(ctx, sel); err != nil {
		return false, fmt.Errorf("actuate: focus select: %w", err)
	}
	prev, hadSize := dom.Attr(sel, "size")
	size := min(max(len(dom.Options(sel)), 2), maxOpenSize)
	if err := a.host.SetAttr(ctx, sel, "size", strconv.Itoa(size), false); err != nil {
		return false, fmt.Errorf("actuate: open select: %w", err)
	}
	if a.dropdownRevert <= 0 || a.closed {
		return true, nil
	}

	p := &pendingRevert{run: func(ctx context.Context) {
		if err := a.host.SetAttr(ctx, sel, "size", prev, !hadSize); err != nil {
			slog.Warn("actuate: failed to close select", "err", err)
		}
	}}
	// The callback needs a.mu, which the caller holds until p is stored.
	p.timer = time.AfterFunc(a.dropdownRevert, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.revert != p {
			return
		}
		a.revert = nil
		p.run(context.Background())
	})
	a.revert = p
	return true, nil
}

var scrollDirections = map[string][2]int{
	"up":    {0, -1},
	"down":  {0, 1},
	"left":  {-1, 0},
	"right": {1, 0},
}

func (a *Actuator) scroll(ctx context.Context, in types.Intent, _ resolve.ProcessedEntities) (bool, error) {
	dir := normalizeDirection(in.Entities.Text(types.RoleDirection))
	switch dir {
	case "top":
		return true, wrap("scroll", a.host.ScrollToEdge(ctx, dom.EdgeTop))
	case "bottom":
		return true, wrap("scroll", a.host.ScrollToEdge(ctx, dom.EdgeBottom))
	}
	v, ok := scrollDirections[dir]
	if !ok {
		return false, nil
	}
	return true, wrap("scroll", a.host.ScrollBy(ctx, v[0]*a.scrollStep, v[1]*a.scrollStep))
}

func normalizeDirection(s string) string {
	s = match.Normalize(s)
	switch s {
	case "upward", "upwards", "higher":
		return "up"
	case "downward", "downwards", "lower":
		return "down"
	case "beginning", "start", "the top":
		return "top"
	case "end", "the bottom":
		return "bottom"
	}
	return s
}

func wrap(op string, err error) error {
	if err != nil {
		return fmt.Errorf("actuate: %s: %w", op, err)
	}
	return nil
}

func (a *Actuator) scrollTo(ctx context.Context, _ types.Intent, pe resolve.ProcessedEntities) (bool, error) {
	n := pe.Target
	if n == nil {
		return false, nil
	}
	visible, err := a.host.InViewport(ctx, n)
	if err != nil {
		return false, fmt.Errorf("actuate: viewport check: %w", err)
	}
	if visible {
		if dom.IsFocusable(n) {
			if err := a.host.Focus(ctx, n); err != nil {
				return false, fmt.Errorf("actuate: focus: %w", err)
			}
		}
		if err := a.host.Click(ctx, n); err != nil {
			return false, fmt.Errorf("actuate: click: %w", err)
		}
		return true, nil
	}
	if err := a.host.ScrollIntoView(ctx, n); err != nil {
		return false, fmt.Errorf("actuate: scroll into view: %w", err)
	}
	if dom.IsFocusable(n) {
		if err := a.host.Focus(ctx, n); err != nil {
			return false, fmt.Errorf("actuate: focus: %w", err)
		}
	}
	return true, nil
}

func (a *Actuator) zoomPage(ctx context.Context, in types.Intent, _ resolve.ProcessedEntities) (bool, error) {
	next := a.zoom
	switch match.Normalize(in.Entities.Text(types.RoleDirection)) {
	case "in", "bigger", "larger":
		next += a.zoomStep
	case "out", "smaller":
		next = max(MinZoom, next-a.zoomStep)
	case "reset", "normal":
		next = 1
	default:
		return false, nil
	}
	if err := a.host.SetZoom(ctx, next); err != nil {
		return false, fmt.Errorf("actuate: zoom: %w", err)
	}
	a.zoom = next
	return true, nil
}

func (a *Actuator) goBack(ctx context.Context, _ types.Intent, _ resolve.ProcessedEntities) (bool, error) {
	if err := a.host.Back(ctx); err != nil {
		return false, fmt.Errorf("actuate: go back: %w", err)
	}
	return true, nil
}

func (a *Actuator) undo(ctx context.Context, _ types.Intent, _ resolve.ProcessedEntities) (bool, error) {
	e, ok := a.hist.pop()
	if !ok {
		return false, nil
	}
	return a.restore(ctx, e)
}

func (a *Actuator) undoTarget(ctx context.Context, in types.Intent, _ resolve.ProcessedEntities) (bool, error) {
	v, ok := in.Entities.Get(types.RoleTarget)
	if !ok {
		return false, nil
	}
	ids, err := a.undoCandidates(ctx, in)
	if err != nil {
		return false, err
	}
	e, ok := a.hist.take(v.Renderings(), ids)
	if !ok {
		return false, nil
	}
	return a.restore(ctx, e)
}

// undoCandidates returns the paths of the element the target of in resolves
// to, together with the field or checkbox inside it that a mutation would
// have recorded.
func (a *Actuator) undoCandidates(ctx context.Context, in types.Intent) ([]string, error) {
	doc, err := a.host.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("actuate: snapshot page: %w", err)
	}
	pe, ok := a.resolver.Resolve(doc, in)
	if !ok || pe.Target == nil {
		return nil, nil
	}
	ids := []string{dom.Path(pe.Target)}
	if inner := dom.Find(pe.Target, dom.IsTextField); len(inner) > 0 {
		ids = append(ids, dom.Path(inner[0]))
	}
	if cb := checkboxOf(pe.Target); cb != nil && cb != pe.Target {
		ids = append(ids, dom.Path(cb))
	}
	return ids, nil
}
