package dom

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/net/html"
)

// ErrDetached is returned when a node no longer belongs to the document.
var ErrDetached = errors.New("dom: node is not attached to the document")

// RecordedEvent is one event dispatched through a [Memory] host.
type RecordedEvent struct {
	Path string
	Type string
}

// Memory is an in-process [Host] operating directly on a parsed Document.
// It records every dispatched event, scroll and navigation so callers can
// inspect what a real browser would have seen. Memory backs the replay
// command and the tests.
type Memory struct {
	mu sync.Mutex

	doc       *Document
	events    []RecordedEvent
	offscreen map[*html.Node]bool
	focused   *html.Node
	scrollX   int
	scrollY   int
	zoom      float64
	backs     int
	hidden    bool
}

var (
	_ Host               = (*Memory)(nil)
	_ VisibilityReporter = (*Memory)(nil)
)

// NewMemory wraps doc in an in-memory host. Every element starts inside the
// viewport.
func NewMemory(doc *Document) *Memory {
	return &Memory{doc: doc, offscreen: make(map[*html.Node]bool), zoom: 1}
}

// SetHidden simulates the page being hidden from (or shown to) the user.
func (m *Memory) SetHidden(hidden bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = hidden
}

// Visible reports false after SetHidden(true).
func (m *Memory) Visible(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.hidden, nil
}

// SetOffscreen marks n as outside (or back inside) the viewport.
func (m *Memory) SetOffscreen(n *html.Node, off bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offscreen[n] = off
}

// Events returns a copy of the dispatched events in order.
func (m *Memory) Events() []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedEvent(nil), m.events...)
}

// EventCount returns how often event was dispatched at n.
func (m *Memory) EventCount(n *html.Node, event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Path(n)
	var c int
	for _, e := range m.events {
		if e.Path == p && e.Type == event {
			c++
		}
	}
	return c
}

// Focused returns the element that last received focus.
func (m *Memory) Focused() *html.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// Scroll returns the accumulated scroll offset.
func (m *Memory) Scroll() (x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrollX, m.scrollY
}

// Zoom returns the last applied zoom factor.
func (m *Memory) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

// BackCount returns how many times Back was called.
func (m *Memory) BackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backs
}

func (m *Memory) attached(n *html.Node) error {
	if n == nil || !Contains(m.doc.Root, n) {
		return ErrDetached
	}
	return nil
}

func (m *Memory) record(n *html.Node, event string) {
	m.events = append(m.events, RecordedEvent{Path: Path(n), Type: event})
}

func (m *Memory) Document(context.Context) (*Document, error) {
	return m.doc, nil
}

// Click records a click event. Checkboxes toggle and radios become checked,
// mirroring browser default actions.
func (m *Memory) Click(_ context.Context, n *html.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	m.record(n, EventClick)
	switch {
	case IsCheckbox(n):
		setChecked(n, !Checked(n))
		m.record(n, EventChange)
	case IsRadio(n) && !Checked(n):
		m.checkRadio(n)
		m.record(n, EventChange)
	}
	return nil
}

func (m *Memory) Focus(_ context.Context, n *html.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	m.focused = n
	return nil
}

func (m *Memory) SetValue(_ context.Context, n *html.Node, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	if IsSelect(n) {
		for _, o := range Options(n) {
			if OptionValue(o) == value {
				SetAttr(o, "selected", "")
			} else {
				RemoveAttr(o, "selected")
			}
		}
		return nil
	}
	SetAttr(n, "value", value)
	return nil
}

func (m *Memory) SetChecked(_ context.Context, n *html.Node, checked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	if IsRadio(n) && checked {
		m.checkRadio(n)
		return nil
	}
	setChecked(n, checked)
	return nil
}

func (m *Memory) checkRadio(n *html.Node) {
	name := AttrOr(n, "name", "")
	if name != "" {
		_, groups := m.doc.RadioGroups()
		for _, r := range groups[name] {
			RemoveAttr(r, "checked")
		}
	}
	SetAttr(n, "checked", "")
}

func setChecked(n *html.Node, checked bool) {
	if checked {
		SetAttr(n, "checked", "")
	} else {
		RemoveAttr(n, "checked")
	}
}

func (m *Memory) SetAttr(_ context.Context, n *html.Node, name, value string, remove bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	if remove {
		RemoveAttr(n, name)
	} else {
		SetAttr(n, name, value)
	}
	return nil
}

func (m *Memory) Dispatch(_ context.Context, n *html.Node, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	m.record(n, event)
	return nil
}

func (m *Memory) ScrollBy(_ context.Context, dx, dy int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrollX = max(0, m.scrollX+dx)
	m.scrollY = max(0, m.scrollY+dy)
	return nil
}

// ScrollToEdge moves to y=0 for the top; the bottom is modelled as -1 since
// the in-memory page has no height.
func (m *Memory) ScrollToEdge(_ context.Context, edge ScrollEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if edge == EdgeTop {
		m.scrollY = 0
	} else {
		m.scrollY = -1
	}
	return nil
}

func (m *Memory) ScrollIntoView(_ context.Context, n *html.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return err
	}
	m.offscreen[n] = false
	return nil
}

func (m *Memory) InViewport(_ context.Context, n *html.Node) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.attached(n); err != nil {
		return false, err
	}
	return !m.offscreen[n], nil
}

func (m *Memory) SetZoom(_ context.Context, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zoom = factor
	return nil
}

func (m *Memory) Back(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backs++
	return nil
}
