package resolve

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/match"
	"github.com/MrWong99/voxact/pkg/types"
)

// contextMinScore is the minimum score for both the column header and the
// row cell of a contextual lookup.
const contextMinScore = 50

// Contextual resolves "click X in the row where column K is V".
type Contextual struct {
	Search *Searcher
}

var _ Processor = (*Contextual)(nil)

func (*Contextual) Name() string { return "contextual" }

func (*Contextual) Applies(_ *dom.Document, in types.Intent) bool {
	if in.Kind != types.IntentClickInRow {
		return false
	}
	e := in.Entities
	return e.Has(types.RoleTarget) && e.Has(types.RoleContextKey) && e.Has(types.RoleContextValue)
}

func (c *Contextual) Resolve(doc *dom.Document, in types.Intent) (ProcessedEntities, bool) {
	key, _ := in.Entities.Get(types.RoleContextKey)
	val, _ := in.Entities.Get(types.RoleContextValue)
	target, _ := in.Entities.Get(types.RoleTarget)

	headers := dom.FindTag(doc.Root, atom.Th)
	hi, hscore := bestText(headers, key, dom.Text)
	if hi < 0 || hscore < contextMinScore {
		return ProcessedEntities{}, false
	}
	header := headers[hi]
	table := dom.Closest(header, atom.Table)
	headerRow := dom.Closest(header, atom.Tr)
	if table == nil || headerRow == nil {
		return ProcessedEntities{}, false
	}
	col := columnOf(headerRow, header)

	var rows, cells []*html.Node
	for _, tr := range dom.FindTag(table, atom.Tr) {
		if tr == headerRow || dom.Closest(tr.Parent, atom.Table) != table {
			continue
		}
		cs := dom.Cells(tr)
		if col >= len(cs) {
			continue
		}
		rows = append(rows, tr)
		cells = append(cells, cs[col])
	}
	ri, rscore := bestText(cells, val, dom.Text)
	if ri < 0 || rscore < contextMinScore {
		return ProcessedEntities{}, false
	}
	row := rows[ri]

	hit, ok := c.Search.FindStrict(doc, row, target)
	if !ok {
		return ProcessedEntities{Group: row}, false
	}
	return ProcessedEntities{Target: hit.Node, Group: row, TargetName: hit.Label, Score: hit.Score}, true
}

func columnOf(row, cell *html.Node) int {
	for i, c := range dom.Cells(row) {
		if c == cell {
			return i
		}
	}
	return -1
}

// Grouped resolves a target inside a dropdown, radio group or other labelled
// container. It applies when a group entity is present, or for selection
// intents when the page has exactly one selectable group.
type Grouped struct {
	Search *Searcher
}

var _ Processor = (*Grouped)(nil)

func (*Grouped) Name() string { return "grouped" }

func (*Grouped) Applies(doc *dom.Document, in types.Intent) bool {
	if in.Entities.Has(types.RoleGroup) {
		return true
	}
	if in.Kind != types.IntentSelect || !in.Entities.Has(types.RoleTarget) {
		return false
	}
	names, _ := doc.RadioGroups()
	return len(doc.Selects())+len(names) == 1
}

func (g *Grouped) Resolve(doc *dom.Document, in types.Intent) (ProcessedEntities, bool) {
	target, ok := in.Entities.Get(types.RoleTarget)
	if !ok {
		return ProcessedEntities{}, false
	}

	var container *html.Node
	var radios []*html.Node
	if group, ok := in.Entities.Get(types.RoleGroup); ok {
		hit, found := g.Search.Find(doc, nil, group)
		if !found {
			return ProcessedEntities{}, false
		}
		container = hit.Node
	} else {
		names, groups := doc.RadioGroups()
		if sels := doc.Selects(); len(sels) == 1 {
			container = sels[0]
		} else if len(names) == 1 {
			radios = groups[names[0]]
			container = radios[0].Parent
		}
	}
	if container == nil {
		return ProcessedEntities{}, false
	}

	sel := container
	if !dom.IsSelect(sel) {
		if inner := dom.FindTag(container, atom.Select); len(inner) == 1 {
			sel = inner[0]
		}
	}
	if dom.IsSelect(sel) {
		return g.resolveOption(sel, target)
	}

	if radios == nil {
		radios = dom.Find(container, dom.IsRadio)
		if dom.IsRadio(container) {
			radios = radioSiblings(doc, container)
		}
	}
	if len(radios) > 0 {
		return g.resolveRadio(doc, container, radios, target)
	}

	hit, ok := g.Search.FindStrict(doc, container, target)
	if !ok {
		return ProcessedEntities{Group: container}, false
	}
	return ProcessedEntities{Target: hit.Node, Group: container, TargetName: hit.Label, Score: hit.Score}, true
}

// resolveOption returns the select itself together with the rendering of the
// spoken target that best matches one of its options.
func (g *Grouped) resolveOption(sel *html.Node, target types.EntityValue) (ProcessedEntities, bool) {
	var bestPhrase string
	var bestScore float64
	for _, phrase := range target.Renderings() {
		for _, o := range dom.Options(sel) {
			sc := max(match.Score(dom.Text(o), phrase), match.Score(dom.OptionValue(o), phrase))
			if bestPhrase == "" || sc > bestScore {
				bestPhrase, bestScore = phrase, sc
			}
		}
	}
	if bestPhrase == "" {
		return ProcessedEntities{Group: sel}, false
	}
	return ProcessedEntities{Target: sel, Group: sel, TargetName: bestPhrase, Score: bestScore}, true
}

func (g *Grouped) resolveRadio(doc *dom.Document, container *html.Node, radios []*html.Node, target types.EntityValue) (ProcessedEntities, bool) {
	i, sc := bestText(radios, target, func(n *html.Node) string { return radioLabel(doc, n) })
	if i < 0 || sc < g.Search.MinScore {
		return ProcessedEntities{Group: container}, false
	}
	return ProcessedEntities{Target: radios[i], Group: container, TargetName: radioLabel(doc, radios[i]), Score: sc}, true
}

func radioSiblings(doc *dom.Document, radio *html.Node) []*html.Node {
	name := dom.AttrOr(radio, "name", "")
	if name == "" {
		return []*html.Node{radio}
	}
	_, groups := doc.RadioGroups()
	return groups[name]
}

// radioLabel returns the voice label of a radio, the text of its enclosing
// <label>, or its value.
func radioLabel(doc *dom.Document, n *html.Node) string {
	if l := doc.Label(n); l != "" {
		return l
	}
	if l := dom.Closest(n, atom.Label); l != nil {
		if t := dom.Text(l); t != "" {
			return t
		}
	}
	return dom.AttrOr(n, "value", "")
}

// Multi resolves every voice-addressable element inside a target group.
type Multi struct {
	Search *Searcher
}

var _ Processor = (*Multi)(nil)

func (*Multi) Name() string { return "multi" }

func (*Multi) Applies(_ *dom.Document, in types.Intent) bool {
	return in.Entities.Has(types.RoleTargetGroup)
}

func (m *Multi) Resolve(doc *dom.Document, in types.Intent) (ProcessedEntities, bool) {
	group, _ := in.Entities.Get(types.RoleTargetGroup)
	hit, ok := m.Search.Find(doc, nil, group)
	if !ok {
		return ProcessedEntities{}, false
	}
	targets := doc.Labeled(hit.Node)
	return ProcessedEntities{
		Targets:    targets,
		Group:      hit.Node,
		TargetName: hit.Label,
		Score:      hit.Score,
	}, len(targets) > 0
}

// Single resolves one target, scoped to the active section when the page
// declares sections.
type Single struct {
	Search *Searcher
}

var _ Processor = (*Single)(nil)

func (*Single) Name() string { return "single" }

func (*Single) Applies(_ *dom.Document, in types.Intent) bool {
	return in.Entities.Has(types.RoleTarget)
}

func (s *Single) Resolve(doc *dom.Document, in types.Intent) (ProcessedEntities, bool) {
	target, _ := in.Entities.Get(types.RoleTarget)
	hit, ok := s.Search.Find(doc, doc.ActiveSection(), target)
	if !ok {
		return ProcessedEntities{}, false
	}
	return ProcessedEntities{Target: hit.Node, TargetName: hit.Label, Score: hit.Score}, true
}
