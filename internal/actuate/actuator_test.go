package actuate_test

import (
	"context"
	"math"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/MrWong99/voxact/internal/actuate"
	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/pkg/types"
)

const form = `<html><body><section data-voice-section="main">
<input id="name" data-voice-label="Name" value="Bob">
<input id="email" type="email" data-voice-label="Email" value="">
<input id="city" data-voice-label="City" value="Berlin">
<input id="amount" type="number" data-voice-label="Amount">
<input id="news" type="checkbox" data-voice-label="Newsletter">
<div data-voice-label="Notifications">
  <input type="checkbox" data-voice-label="SMS">
  <input type="checkbox" data-voice-label="Push" checked>
</div>
<select id="country" data-voice-label="Country"><option value="de">Germany</option><option value="fr">France</option></select>
<button id="go" data-voice-label="Submit">Submit</button>
</section></body></html>`

func setup(t *testing.T) (*dom.Document, *dom.Memory, *actuate.Actuator) {
	t.Helper()
	doc, err := dom.ParseString(form, dom.Markup{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	host := dom.NewMemory(doc)
	return doc, host, actuate.New(host, actuate.WithDropdownRevert(0))
}

func byID(t *testing.T, doc *dom.Document, id string) *html.Node {
	t.Helper()
	found := dom.Find(doc.Root, func(n *html.Node) bool { return dom.AttrOr(n, "id", "") == id })
	if len(found) == 0 {
		t.Fatalf("no element #%s", id)
	}
	return found[0]
}

func in(kind types.IntentKind, kv ...string) types.Intent {
	e := types.Entities{}
	for i := 0; i+1 < len(kv); i += 2 {
		e[types.Role(kv[i])] = types.Raw(kv[i+1])
	}
	return types.Intent{Kind: kind, Confidence: 1, Entities: e}
}

func exec(t *testing.T, a *actuate.Actuator, intent types.Intent) bool {
	t.Helper()
	ok, err := a.Execute(context.Background(), intent)
	if err != nil {
		t.Fatalf("Execute(%s): %v", intent.Kind, err)
	}
	return ok
}

func TestFill_EndToEnd(t *testing.T) {
	t.Parallel()

	doc, host, a := setup(t)
	var events []actuate.Event
	a.Subscribe(func(e actuate.Event) { events = append(events, e) })

	if !exec(t, a, in(types.IntentFill, "target", "name", "value", "Alex")) {
		t.Fatal("fill failed")
	}
	name := byID(t, doc, "name")
	if got := dom.Value(name); got != "Alex" {
		t.Errorf("value = %q, want Alex", got)
	}
	if n := host.EventCount(name, dom.EventInput); n != 1 {
		t.Errorf("input events = %d, want 1", n)
	}
	if n := host.EventCount(name, dom.EventChange); n != 1 {
		t.Errorf("change events = %d, want 1", n)
	}
	if h := a.History(); len(h) != 1 || h[0].PreviousValue != "Bob" {
		t.Errorf("history = %+v", h)
	}
	if len(events) != 1 || events[0].Kind != actuate.EventPerformed || !events[0].Success {
		t.Errorf("events = %+v", events)
	}
}

func TestFill_Normalizes(t *testing.T) {
	t.Parallel()

	doc, _, a := setup(t)
	exec(t, a, in(types.IntentFill, "target", "email", "value", "ann at example dot com"))
	exec(t, a, in(types.IntentType, "target", "amount", "value", "12,000 and 5"))

	if got := dom.Value(byID(t, doc, "email")); got != "ann@example.com" {
		t.Errorf("email = %q", got)
	}
	if got := dom.Value(byID(t, doc, "amount")); got != "12000" {
		t.Errorf("amount = %q", got)
	}
}

func TestUndo_RoundTrip(t *testing.T) {
	t.Parallel()

	doc, _, a := setup(t)
	if exec(t, a, in(types.IntentUndo)) {
		t.Fatal("undo on empty history should fail")
	}

	exec(t, a, in(types.IntentFill, "target", "name", "value", "Alex"))
	if !exec(t, a, in(types.IntentUndo)) {
		t.Fatal("undo failed")
	}
	if got := dom.Value(byID(t, doc, "name")); got != "Bob" {
		t.Errorf("value after undo = %q, want Bob", got)
	}
	if len(a.History()) != 0 {
		t.Error("history should be empty after undo")
	}
}

func TestUndoTarget_RestoresOnlyNamedEntry(t *testing.T) {
	t.Parallel()

	doc, _, a := setup(t)
	exec(t, a, in(types.IntentFill, "target", "name", "value", "Alex"))
	exec(t, a, in(types.IntentFill, "target", "city", "value", "Paris"))
	exec(t, a, in(types.IntentFill, "target", "email", "value", "a at b dot c"))

	if !exec(t, a, in(types.IntentUndoTarget, "target", "city")) {
		t.Fatal("undo_target failed")
	}
	if got := dom.Value(byID(t, doc, "city")); got != "Berlin" {
		t.Errorf("city = %q, want Berlin", got)
	}
	if got := dom.Value(byID(t, doc, "name")); got != "Alex" {
		t.Errorf("name = %q, want Alex (untouched)", got)
	}
	if got := dom.Value(byID(t, doc, "email")); got != "a@b.c" {
		t.Errorf("email = %q, want a@b.c (untouched)", got)
	}
	if len(a.History()) != 2 {
		t.Errorf("history length = %d, want 2", len(a.History()))
	}
	if exec(t, a, in(types.IntentUndoTarget, "target", "zebra crossing")) {
		t.Error("undo_target for an unknown label should fail")
	}
}

const overlapping = `<html><body>
<input id="name" data-voice-label="Name" value="Bob">
<input id="first" data-voice-label="First name" value="Robert">
<input id="email" type="email" data-voice-label="Email" value="old@x">
</body></html>`

func TestUndoTarget_PrefersExactLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target   string
		restored string
		want     map[string]string
	}{
		{"name", "name", map[string]string{"name": "Bob", "first": "Al", "email": "new@x"}},
		{"first name", "first", map[string]string{"name": "Alex", "first": "Robert", "email": "new@x"}},
		{"email address", "email", map[string]string{"name": "Alex", "first": "Al", "email": "old@x"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()

			doc, err := dom.ParseString(overlapping, dom.Markup{})
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			a := actuate.New(dom.NewMemory(doc), actuate.WithDropdownRevert(0))
			exec(t, a, in(types.IntentFill, "target", "name", "value", "Alex"))
			exec(t, a, in(types.IntentFill, "target", "first name", "value", "Al"))
			exec(t, a, in(types.IntentFill, "target", "email", "value", "new@x"))

			if !exec(t, a, in(types.IntentUndoTarget, "target", tt.target)) {
				t.Fatalf("undo_target %q failed", tt.target)
			}
			for id, want := range tt.want {
				if got := dom.Value(byID(t, doc, id)); got != want {
					t.Errorf("#%s = %q, want %q", id, got, want)
				}
			}
			for _, e := range a.History() {
				if e.TargetID == dom.Path(byID(t, doc, tt.restored)) {
					t.Errorf("entry for #%s still in history", tt.restored)
				}
			}
		})
	}
}

func TestCheckbox(t *testing.T) {
	t.Parallel()

	doc, host, a := setup(t)
	news := byID(t, doc, "news")

	if !exec(t, a, in(types.IntentCheck, "target", "newsletter")) || !dom.Checked(news) {
		t.Fatal("check failed")
	}
	if !exec(t, a, in(types.IntentCheck, "target", "newsletter")) {
		t.Error("check of an already checked box should succeed as a no-op")
	}
	if n := host.EventCount(news, dom.EventChange); n != 1 {
		t.Errorf("change events = %d, want 1", n)
	}
	if len(a.History()) != 1 {
		t.Errorf("history = %d entries, want 1", len(a.History()))
	}
	exec(t, a, in(types.IntentUndo))
	if dom.Checked(news) {
		t.Error("undo should uncheck the newsletter")
	}
}

func TestBulkCheckbox(t *testing.T) {
	t.Parallel()

	_, _, a := setup(t)
	if !exec(t, a, in(types.IntentCheckAll, "targetGroup", "notifications")) {
		t.Fatal("check_all should toggle SMS")
	}
	if exec(t, a, in(types.IntentCheckAll, "targetGroup", "notifications")) {
		t.Error("second check_all toggles nothing and should fail")
	}
	if !exec(t, a, in(types.IntentUncheckAll, "targetGroup", "notifications")) {
		t.Error("uncheck_all should succeed")
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	doc, _, a := setup(t)
	country := byID(t, doc, "country")

	if !exec(t, a, in(types.IntentSelect, "target", "france", "group", "country")) {
		t.Fatal("select failed")
	}
	if dom.Value(country) != "fr" {
		t.Errorf("country = %q, want fr", dom.Value(country))
	}
	if exec(t, a, in(types.IntentSelect, "target", "japan", "group", "country")) {
		t.Error("option below threshold should fail")
	}
	exec(t, a, in(types.IntentUndo))
	if dom.Value(country) != "de" {
		t.Errorf("country after undo = %q, want de", dom.Value(country))
	}
}

func TestOpenDropdown(t *testing.T) {
	t.Parallel()

	doc, host, a := setup(t)
	country := byID(t, doc, "country")
	if !exec(t, a, in(types.IntentOpenDropdown, "target", "country")) {
		t.Fatal("open_dropdown failed")
	}
	if dom.AttrOr(country, "size", "") != "2" {
		t.Errorf("size = %q, want 2", dom.AttrOr(country, "size", ""))
	}
	if host.Focused() != country {
		t.Error("select should be focused")
	}
}

const twoSelects = `<html><body>
<select id="country" data-voice-label="Country"><option>Germany</option><option>France</option></select>
<select id="city" data-voice-label="City"><option>Berlin</option><option>Paris</option><option>Rome</option></select>
</body></html>`

func TestOpenDropdown_ClosesPreviousSelect(t *testing.T) {
	t.Parallel()

	doc, err := dom.ParseString(twoSelects, dom.Markup{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := actuate.New(dom.NewMemory(doc), actuate.WithDropdownRevert(time.Hour))
	t.Cleanup(func() { a.Close() })

	exec(t, a, in(types.IntentOpenDropdown, "target", "country"))
	exec(t, a, in(types.IntentOpenDropdown, "target", "city"))

	if _, ok := dom.Attr(byID(t, doc, "country"), "size"); ok {
		t.Error("first select should be closed when the second opens")
	}
	if got := dom.AttrOr(byID(t, doc, "city"), "size", ""); got != "3" {
		t.Errorf("city size = %q, want 3", got)
	}
}

func TestClose_StopsDropdownRevert(t *testing.T) {
	t.Parallel()

	doc, err := dom.ParseString(twoSelects, dom.Markup{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	const revert = 100 * time.Millisecond
	a := actuate.New(dom.NewMemory(doc), actuate.WithDropdownRevert(revert))

	exec(t, a, in(types.IntentOpenDropdown, "target", "country"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(3 * revert)

	if got := dom.AttrOr(byID(t, doc, "country"), "size", ""); got != "2" {
		t.Errorf("size = %q, want 2 (revert should not run after Close)", got)
	}
}

func TestScrollAndZoom(t *testing.T) {
	t.Parallel()

	_, host, a := setup(t)
	exec(t, a, in(types.IntentScroll, "direction", "down"))
	exec(t, a, in(types.IntentScroll, "direction", "down"))
	if _, y := host.Scroll(); y != 2*actuate.DefaultScrollStep {
		t.Errorf("scrollY = %d", y)
	}
	if exec(t, a, in(types.IntentScroll, "direction", "sideways")) {
		t.Error("unknown direction should fail")
	}

	for range 10 {
		exec(t, a, in(types.IntentZoom, "direction", "out"))
	}
	if math.Abs(host.Zoom()-actuate.MinZoom) > 1e-9 {
		t.Errorf("zoom = %v, want floor %v", host.Zoom(), actuate.MinZoom)
	}
	exec(t, a, in(types.IntentZoom, "direction", "in"))
	if math.Abs(a.Zoom()-0.6) > 1e-9 {
		t.Errorf("zoom after in = %v, want 0.6", a.Zoom())
	}
}

func TestScrollTo(t *testing.T) {
	t.Parallel()

	doc, host, a := setup(t)
	submit := byID(t, doc, "go")

	host.SetOffscreen(submit, true)
	exec(t, a, in(types.IntentScrollTo, "target", "submit"))
	if host.EventCount(submit, dom.EventClick) != 0 {
		t.Error("offscreen target should only be scrolled into view")
	}
	if host.Focused() != submit {
		t.Error("focusable target should be focused")
	}

	exec(t, a, in(types.IntentScrollTo, "target", "submit"))
	if host.EventCount(submit, dom.EventClick) != 1 {
		t.Error("visible target should be activated")
	}
}

func TestGoBackAndClick(t *testing.T) {
	t.Parallel()

	doc, host, a := setup(t)
	exec(t, a, in(types.IntentGoBack))
	if host.BackCount() != 1 {
		t.Errorf("back count = %d", host.BackCount())
	}
	exec(t, a, in(types.IntentClick, "target", "submit"))
	if host.EventCount(byID(t, doc, "go"), dom.EventClick) != 1 {
		t.Error("click not dispatched")
	}
	if exec(t, a, in(types.IntentClick, "target", "launch rockets")) {
		t.Error("missing target should report false")
	}
}

func TestUnknownIntentIsPaused(t *testing.T) {
	t.Parallel()

	_, _, a := setup(t)
	var got []actuate.Event
	a.Subscribe(func(e actuate.Event) { got = append(got, e) })

	ok, err := a.Execute(context.Background(), types.Intent{Kind: "dance"})
	if ok || err != nil {
		t.Errorf("ok=%v err=%v, want false, nil", ok, err)
	}
	if len(got) != 1 || got[0].Kind != actuate.EventPaused {
		t.Errorf("events = %+v, want one paused", got)
	}
}
