package resolve

import (
	"slices"

	"golang.org/x/net/html"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/match"
	"github.com/MrWong99/voxact/pkg/types"
)

// DefaultMinScore is the lowest label score accepted as a match.
const DefaultMinScore = 30

// DefaultGlobalTargets are phrases that always search the whole document.
var DefaultGlobalTargets = []string{"delete", "discard", "back", "home"}

// Hit is one label search result.
type Hit struct {
	Node  *html.Node
	Label string
	Score float64

	// Phrase is the rendering of the spoken value that produced the score.
	Phrase string
}

// Searcher finds voice-addressable elements by label.
type Searcher struct {
	MinScore float64
	Global   []string
}

// NewSearcher returns a Searcher with the default threshold and global
// targets.
func NewSearcher() *Searcher {
	return &Searcher{MinScore: DefaultMinScore, Global: DefaultGlobalTargets}
}

// Find searches for value below scope. Elements marked global, and every
// element when the phrase is itself a global target, are searched
// page-wide. Each rendering of a voice entity is tried and the best hit wins.
func (s *Searcher) Find(doc *dom.Document, scope *html.Node, value types.EntityValue) (Hit, bool) {
	return s.find(doc, scope, value, false)
}

// FindStrict is like Find but never widens the search beyond scope.
func (s *Searcher) FindStrict(doc *dom.Document, scope *html.Node, value types.EntityValue) (Hit, bool) {
	return s.find(doc, scope, value, true)
}

func (s *Searcher) find(doc *dom.Document, scope *html.Node, value types.EntityValue, strict bool) (Hit, bool) {
	if value == nil {
		return Hit{}, false
	}
	var best Hit
	for _, phrase := range value.Renderings() {
		cands := s.candidates(doc, scope, phrase, strict)
		h, ok := bestHit(doc, cands, phrase)
		if ok && (best.Node == nil || h.Score > best.Score) {
			best = h
		}
	}
	if best.Node == nil || best.Score < s.MinScore {
		return best, false
	}
	return best, true
}

func (s *Searcher) candidates(doc *dom.Document, scope *html.Node, phrase string, strict bool) []*html.Node {
	if scope == nil || (!strict && s.isGlobalPhrase(phrase)) {
		return doc.Labeled(nil)
	}
	cands := doc.Labeled(scope)
	if strict {
		return cands
	}
	for _, n := range doc.Labeled(nil) {
		if doc.IsGlobal(n) && !dom.Contains(scope, n) {
			cands = append(cands, n)
		}
	}
	return cands
}

func (s *Searcher) isGlobalPhrase(phrase string) bool {
	return slices.Contains(s.Global, match.Normalize(phrase))
}

func bestHit(doc *dom.Document, cands []*html.Node, phrase string) (Hit, bool) {
	var best Hit
	for _, n := range cands {
		label := doc.Label(n)
		sc := match.Score(label, phrase)
		if best.Node == nil || sc > best.Score {
			best = Hit{Node: n, Label: label, Score: sc, Phrase: phrase}
		}
	}
	return best, best.Node != nil
}

// bestText scores the text of each node against every rendering of value and
// returns the index of the best node.
func bestText(nodes []*html.Node, value types.EntityValue, text func(*html.Node) string) (int, float64) {
	idx, score := -1, 0.0
	phrases := value.Renderings()
	for i, n := range nodes {
		sc := match.BestOf(text(n), phrases)
		if idx == -1 || sc > score {
			idx, score = i, sc
		}
	}
	return idx, score
}
