// Package resolve maps the entities of an intent onto concrete page elements.
//
// Resolution runs an ordered chain of [Processor] strategies. The first
// processor whose Applies predicate accepts the intent is used exclusively;
// results are never merged across processors. The default chain is:
//
//  1. contextual: an element inside the table row selected by a column
//     header and cell value;
//  2. grouped: an option or radio inside an explicit or auto-detected group;
//  3. multi: every voice-addressable element inside a group container;
//  4. single: one element, scoped to the active page section.
package resolve

import (
	"log/slog"

	"golang.org/x/net/html"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/pkg/types"
)

// ProcessedEntities is the outcome of resolving one intent. It is owned by a
// single execution cycle and never persisted.
type ProcessedEntities struct {
	// Entities are the original intent entities.
	Entities types.Entities

	// Target is the single element to act on, if any.
	Target *html.Node

	// Targets lists the elements of a bulk operation.
	Targets []*html.Node

	// Group is the element that contextualises Target: a <select>, a radio
	// container or a table row.
	Group *html.Node

	// TargetName is the human-readable name of what was matched, used to
	// pick dropdown options.
	TargetName string

	// Score is the match score of Target, when a label search produced it.
	Score float64

	// Processor names the strategy that produced the result.
	Processor string
}

// Processor is one resolution strategy.
type Processor interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// Applies reports whether this processor claims the intent.
	Applies(doc *dom.Document, in types.Intent) bool

	// Resolve finds the elements for the intent. ok is false when nothing
	// suitable was found.
	Resolve(doc *dom.Document, in types.Intent) (pe ProcessedEntities, ok bool)
}

// Resolver runs the processor chain.
type Resolver struct {
	chain  []Processor
	search *Searcher
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSearcher replaces the label searcher used by the default processors.
func WithSearcher(s *Searcher) Option {
	return func(r *Resolver) { r.search = s }
}

// WithChain replaces the processor chain entirely.
func WithChain(chain ...Processor) Option {
	return func(r *Resolver) { r.chain = chain }
}

// New returns a Resolver with the default chain.
func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	if r.search == nil {
		r.search = NewSearcher()
	}
	if r.chain == nil {
		r.chain = []Processor{
			&Contextual{Search: r.search},
			&Grouped{Search: r.search},
			&Multi{Search: r.search},
			&Single{Search: r.search},
		}
	}
	return r
}

// Resolve finds the elements for in. The first applicable processor decides.
func (r *Resolver) Resolve(doc *dom.Document, in types.Intent) (ProcessedEntities, bool) {
	for _, p := range r.chain {
		if !p.Applies(doc, in) {
			continue
		}
		pe, ok := p.Resolve(doc, in)
		pe.Entities = in.Entities
		pe.Processor = p.Name()
		slog.Debug("resolve: processor applied",
			"processor", p.Name(),
			"intent", in.Kind,
			"found", ok,
			"score", pe.Score,
		)
		return pe, ok
	}
	return ProcessedEntities{Entities: in.Entities}, false
}
