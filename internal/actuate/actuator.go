// Package actuate executes resolved intents against the host page.
//
// The [Actuator] is the only component that mutates the page. It resolves
// each intent's entities through the element resolver, normalises typed
// values, performs the side effect through a [dom.Host] and records an undo
// entry for every reversible mutation.
//
// Execute reports success as a boolean. A missing target or an unmet
// precondition yields false and a warning log; only failures of the host
// itself are returned as errors.
package actuate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/normalize"
	"github.com/MrWong99/voxact/internal/resolve"
	"github.com/MrWong99/voxact/pkg/types"
)

// EventKind classifies an actuator event.
type EventKind int

const (
	// EventPerformed is published after an intent was executed, whether or
	// not it succeeded.
	EventPerformed EventKind = iota

	// EventPaused is published when an intent has no registered action and
	// was skipped.
	EventPaused
)

func (k EventKind) String() string {
	if k == EventPaused {
		return "paused"
	}
	return "performed"
}

// Event is published to subscribers after every Execute call.
type Event struct {
	Kind    EventKind
	Intent  types.Intent
	Success bool

	// Target is the label of the element acted on, if any.
	Target string
}

// Defaults for the tunable actuator parameters.
const (
	DefaultScrollStep     = 400
	DefaultZoomStep       = 0.1
	MinZoom               = 0.5
	DefaultDropdownRevert = 3 * time.Second
	DefaultHistoryLimit   = 100
)

// Actuator executes intents. Execute calls are serialized with each other and
// with the dropdown revert timer; the history and subscriber list can be
// inspected from any goroutine.
type Actuator struct {
	// mu guards page access, zoom and the pending revert.
	mu sync.Mutex

	host       dom.Host
	resolver   *resolve.Resolver
	normalizer *normalize.Chain

	scrollStep     int
	zoomStep       float64
	dropdownRevert time.Duration

	hist   history
	zoom   float64
	revert *pendingRevert
	closed bool

	actions map[types.IntentKind]action

	subMu sync.Mutex
	subs  map[int]func(Event)
	next  int
}

// action performs one intent kind. pe is the zero value for kinds that do
// not need element resolution.
type action func(ctx context.Context, in types.Intent, pe resolve.ProcessedEntities) (bool, error)

// Option configures an Actuator.
type Option func(*Actuator)

// WithResolver replaces the default element resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(a *Actuator) { a.resolver = r }
}

// WithNormalizer replaces the default value normalizer chain.
func WithNormalizer(c *normalize.Chain) Option {
	return func(a *Actuator) { a.normalizer = c }
}

// WithScrollStep sets the pixel distance of a directional scroll.
func WithScrollStep(px int) Option {
	return func(a *Actuator) { a.scrollStep = px }
}

// WithZoomStep sets the zoom change per "in"/"out" command.
func WithZoomStep(step float64) Option {
	return func(a *Actuator) { a.zoomStep = step }
}

// WithDropdownRevert sets how long a force-opened native select stays open.
func WithDropdownRevert(d time.Duration) Option {
	return func(a *Actuator) { a.dropdownRevert = d }
}

// WithHistoryLimit caps the number of undo entries kept. Zero keeps all.
func WithHistoryLimit(n int) Option {
	return func(a *Actuator) { a.hist.limit = n }
}

// New creates an Actuator that mutates host.
func New(host dom.Host, opts ...Option) *Actuator {
	a := &Actuator{
		host:           host,
		scrollStep:     DefaultScrollStep,
		zoomStep:       DefaultZoomStep,
		dropdownRevert: DefaultDropdownRevert,
		zoom:           1,
		subs:           make(map[int]func(Event)),
	}
	a.hist.limit = DefaultHistoryLimit
	for _, o := range opts {
		o(a)
	}
	if a.resolver == nil {
		a.resolver = resolve.New()
	}
	if a.normalizer == nil {
		a.normalizer = normalize.NewChain()
	}
	a.actions = map[types.IntentKind]action{
		types.IntentClick:        a.click,
		types.IntentClickInRow:   a.click,
		types.IntentFill:         a.fill,
		types.IntentType:         a.fill,
		types.IntentCheck:        a.checkbox(true),
		types.IntentUncheck:      a.checkbox(false),
		types.IntentCheckAll:     a.bulkCheckbox(true),
		types.IntentUncheckAll:   a.bulkCheckbox(false),
		types.IntentSelect:       a.selectOption,
		types.IntentOpenDropdown: a.openDropdown,
		types.IntentScroll:       a.scroll,
		types.IntentScrollTo:     a.scrollTo,
		types.IntentZoom:         a.zoomPage,
		types.IntentGoBack:       a.goBack,
		types.IntentUndo:         a.undo,
		types.IntentUndoTarget:   a.undoTarget,
	}
	return a
}

// needsTarget lists the intent kinds that operate on resolved elements.
var needsTarget = map[types.IntentKind]bool{
	types.IntentClick:        true,
	types.IntentClickInRow:   true,
	types.IntentFill:         true,
	types.IntentType:         true,
	types.IntentCheck:        true,
	types.IntentUncheck:      true,
	types.IntentCheckAll:     true,
	types.IntentUncheckAll:   true,
	types.IntentSelect:       true,
	types.IntentOpenDropdown: true,
	types.IntentScrollTo:     true,
}

// Subscribe registers fn for every subsequent event. The returned function
// removes the subscription.
func (a *Actuator) Subscribe(fn func(Event)) func() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.next
	a.next++
	a.subs[id] = fn
	return func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subs, id)
	}
}

func (a *Actuator) publish(e Event) {
	a.subMu.Lock()
	fns := make([]func(Event), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// History returns a copy of the undo history, oldest first.
func (a *Actuator) History() []HistoryEntry {
	return a.hist.snapshot()
}

// Zoom returns the current page zoom factor.
func (a *Actuator) Zoom() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zoom
}

// Close cancels a pending dropdown revert. Dropdowns opened afterwards stay
// open.
func (a *Actuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.revert != nil {
		a.revert.timer.Stop()
		a.revert = nil
	}
	return nil
}

// Execute performs in against the page.
func (a *Actuator) Execute(ctx context.Context, in types.Intent) (bool, error) {
	ev, err := a.execute(ctx, in)
	if err != nil {
		return false, err
	}
	a.publish(ev)
	return ev.Success, nil
}

func (a *Actuator) execute(ctx context.Context, in types.Intent) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	act, ok := a.actions[in.Kind]
	if !ok {
		slog.Info("actuate: no action registered, skipping", "intent", in.Kind)
		return Event{Kind: EventPaused, Intent: in}, nil
	}

	var pe resolve.ProcessedEntities
	if needsTarget[in.Kind] {
		doc, err := a.host.Document(ctx)
		if err != nil {
			return Event{}, fmt.Errorf("actuate: snapshot page: %w", err)
		}
		var found bool
		pe, found = a.resolver.Resolve(doc, in)
		if !found {
			slog.Warn("actuate: target not found",
				"intent", in.Kind,
				"target", in.Entities.Text(types.RoleTarget),
				"processor", pe.Processor,
			)
			return Event{Kind: EventPerformed, Intent: in}, nil
		}
	}

	ok, err := act(ctx, in, pe)
	if err != nil {
		return Event{}, err
	}
	if !ok {
		slog.Warn("actuate: precondition failed", "intent", in.Kind, "target", pe.TargetName)
	}
	return Event{Kind: EventPerformed, Intent: in, Success: ok, Target: pe.TargetName}, nil
}
