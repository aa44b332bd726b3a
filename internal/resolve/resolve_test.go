package resolve_test

import (
	"testing"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/resolve"
	"github.com/MrWong99/voxact/pkg/types"
)

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(s, dom.Markup{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func intent(kind types.IntentKind, kv ...any) types.Intent {
	e := types.Entities{}
	for i := 0; i+1 < len(kv); i += 2 {
		switch v := kv[i+1].(type) {
		case string:
			e[kv[i].(types.Role)] = types.Raw(v)
		case types.VoiceEntity:
			e[kv[i].(types.Role)] = v
		}
	}
	return types.Intent{Kind: kind, Confidence: 1, Entities: e}
}

const sectioned = `<html><body>
<nav><a href="#" data-voice-label="Billing" data-voice-global>Billing</a></nav>
<section data-voice-section="a" style="display: none">
  <button id="save-a" data-voice-label="Save">Save</button>
  <button id="del" data-voice-label="Delete">Delete</button>
</section>
<section data-voice-section="b">
  <button id="save-b" data-voice-label="Save">Save</button>
</section>
</body></html>`

func TestSingle_ScopedToActiveSection(t *testing.T) {
	t.Parallel()

	doc := parse(t, sectioned)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentClick, types.RoleTarget, "save"))
	if !ok {
		t.Fatal("expected a match")
	}
	if id := dom.AttrOr(pe.Target, "id", ""); id != "save-b" {
		t.Errorf("target id = %q, want save-b", id)
	}
	if pe.Processor != "single" {
		t.Errorf("processor = %q, want single", pe.Processor)
	}
}

func TestSingle_GlobalTargetsSearchWholeDocument(t *testing.T) {
	t.Parallel()

	doc := parse(t, sectioned)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentClick, types.RoleTarget, "delete"))
	if !ok || dom.AttrOr(pe.Target, "id", "") != "del" {
		t.Fatalf("global phrase should reach outside the active section: ok=%v target=%v", ok, pe.Target)
	}

	pe, ok = r.Resolve(doc, intent(types.IntentClick, types.RoleTarget, "billing"))
	if !ok || doc.Label(pe.Target) != "Billing" {
		t.Fatalf("global-marked element should be found: ok=%v", ok)
	}
}

func TestSingle_VoiceEntityBestRendering(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body><button data-voice-label="Speichern">Speichern</button><button data-voice-label="Abbrechen">x</button></body>`)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentClick, types.RoleTarget,
		types.VoiceEntity{English: "save", UserLanguage: "speichern"}))
	if !ok || doc.Label(pe.Target) != "Speichern" {
		t.Fatalf("user-language rendering should win: ok=%v target=%v", ok, pe.Target)
	}
}

func TestSingle_NoMatchBelowThreshold(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body><button data-voice-label="Save">Save</button></body>`)
	r := resolve.New()
	if _, ok := r.Resolve(doc, intent(types.IntentClick, types.RoleTarget, "quantum flux capacitor")); ok {
		t.Error("unrelated phrase should not resolve")
	}
}

const doctors = `<html><body><table>
<thead><tr><th>Doctor</th><th>Room</th><th>Actions</th></tr></thead>
<tbody>
<tr><td>Doctor Ben</td><td>12</td><td><button id="edit-ben" data-voice-label="Edit">Edit</button></td></tr>
<tr><td>Doctor Lee</td><td>14</td><td><button id="edit-lee" data-voice-label="Edit">Edit</button></td></tr>
</tbody></table></body></html>`

func TestContextual_PicksRowByColumnValue(t *testing.T) {
	t.Parallel()

	doc := parse(t, doctors)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentClickInRow,
		types.RoleTarget, "edit",
		types.RoleContextKey, "doctor",
		types.RoleContextValue, "lee"))
	if !ok {
		t.Fatal("expected contextual match")
	}
	if id := dom.AttrOr(pe.Target, "id", ""); id != "edit-lee" {
		t.Errorf("target = %q, want edit-lee", id)
	}
	if pe.Group == nil || pe.Group.Data != "tr" {
		t.Errorf("group should be the matched row, got %v", pe.Group)
	}
	if pe.Processor != "contextual" {
		t.Errorf("processor = %q", pe.Processor)
	}
}

func TestContextual_RejectsWeakHeader(t *testing.T) {
	t.Parallel()

	doc := parse(t, doctors)
	r := resolve.New()

	_, ok := r.Resolve(doc, intent(types.IntentClickInRow,
		types.RoleTarget, "edit",
		types.RoleContextKey, "insurance provider",
		types.RoleContextValue, "lee"))
	if ok {
		t.Error("unknown column should not resolve")
	}
}

func TestContextual_OnlyForRowClicks(t *testing.T) {
	t.Parallel()

	doc := parse(t, doctors)
	r := resolve.New()

	pe, _ := r.Resolve(doc, intent(types.IntentClick,
		types.RoleTarget, "edit",
		types.RoleContextKey, "doctor",
		types.RoleContextValue, "lee"))
	if pe.Processor == "contextual" {
		t.Error("plain click must not be resolved by row context")
	}
}

func TestGrouped_AutoDetectsSingleDropdown(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body><select data-voice-label="Country">
<option value="de">Germany</option><option value="fr">France</option></select></body>`)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentSelect, types.RoleTarget, "france"))
	if !ok {
		t.Fatal("expected grouped match")
	}
	if !dom.IsSelect(pe.Target) || pe.TargetName != "france" {
		t.Errorf("target = %v name = %q", pe.Target, pe.TargetName)
	}
}

func TestGrouped_ExplicitRadioGroup(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body>
<fieldset data-voice-label="Size">
  <label><input type="radio" name="size" value="s"> Small</label>
  <label><input type="radio" name="size" value="l"> Large</label>
</fieldset>
<fieldset data-voice-label="Color">
  <label><input type="radio" name="color" value="r"> Red</label>
</fieldset></body>`)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentSelect, types.RoleTarget, "large", types.RoleGroup, "size"))
	if !ok {
		t.Fatal("expected radio match")
	}
	if v := dom.AttrOr(pe.Target, "value", ""); v != "l" {
		t.Errorf("radio value = %q, want l", v)
	}
}

func TestMulti_CollectsLabeledDescendants(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<body><div data-voice-label="Notifications">
<input type="checkbox" data-voice-label="Email">
<input type="checkbox" data-voice-label="SMS">
<input type="checkbox" data-voice-label="Push">
</div><input type="checkbox" data-voice-label="Terms"></body>`)
	r := resolve.New()

	pe, ok := r.Resolve(doc, intent(types.IntentCheckAll, types.RoleTargetGroup, "notifications"))
	if !ok || len(pe.Targets) != 3 {
		t.Fatalf("targets = %d ok=%v, want 3", len(pe.Targets), ok)
	}
}

func TestResolver_FirstApplicableWins(t *testing.T) {
	t.Parallel()

	doc := parse(t, doctors)
	var calls []string
	first := stubProcessor{name: "first", applies: false, calls: &calls}
	second := stubProcessor{name: "second", applies: true, calls: &calls}
	third := stubProcessor{name: "third", applies: true, calls: &calls}

	r := resolve.New(resolve.WithChain(first, second, third))
	pe, _ := r.Resolve(doc, intent(types.IntentClick, types.RoleTarget, "edit"))
	if pe.Processor != "second" {
		t.Errorf("processor = %q, want second", pe.Processor)
	}
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("resolve calls = %v, want only second", calls)
	}
}

type stubProcessor struct {
	name    string
	applies bool
	calls   *[]string
}

func (s stubProcessor) Name() string                             { return s.name }
func (s stubProcessor) Applies(*dom.Document, types.Intent) bool { return s.applies }
func (s stubProcessor) Resolve(*dom.Document, types.Intent) (resolve.ProcessedEntities, bool) {
	*s.calls = append(*s.calls, s.name)
	return resolve.ProcessedEntities{}, false
}
