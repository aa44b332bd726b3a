package actuate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/match"
)

// undoTargetMinScore is the minimum label score for a targeted undo.
const undoTargetMinScore = 60

// HistoryKind selects how a history entry is restored.
type HistoryKind int

const (
	// HistoryValue restores the value of a text field or select.
	HistoryValue HistoryKind = iota

	// HistoryChecked restores the checked state of a checkbox.
	HistoryChecked
)

// HistoryEntry records what a mutating action changed, so it can be undone.
type HistoryEntry struct {
	Kind HistoryKind

	// TargetID addresses the element in the page (a [dom.Path] selector).
	TargetID string

	// TargetLabel is the voice label of the element, used by targeted undo.
	TargetLabel string

	PreviousValue   string
	PreviousChecked bool
}

// history is a LIFO stack of entries. Only the actuator writes to it.
type history struct {
	mu      sync.Mutex
	entries []HistoryEntry
	limit   int
}

func (h *history) push(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

func (h *history) pop() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	e := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	return e, true
}

// take removes the entry a targeted undo refers to. An entry whose label
// equals one of phrases wins, then one recorded for any of ids, then the
// best label score of at least undoTargetMinScore. Each pass prefers the
// newest entry.
func (h *history) take(phrases, ids []string) (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := h.find(func(e HistoryEntry) bool {
		label := match.Normalize(e.TargetLabel)
		return label != "" && slices.ContainsFunc(phrases, func(p string) bool {
			return match.Normalize(p) == label
		})
	})
	if idx < 0 && len(ids) > 0 {
		idx = h.find(func(e HistoryEntry) bool { return slices.Contains(ids, e.TargetID) })
	}
	if idx < 0 {
		best := 0.0
		for i := len(h.entries) - 1; i >= 0; i-- {
			if s := match.BestOf(h.entries[i].TargetLabel, phrases); s >= undoTargetMinScore && s > best {
				idx, best = i, s
			}
		}
	}
	if idx < 0 {
		return HistoryEntry{}, false
	}
	e := h.entries[idx]
	h.entries = slices.Delete(h.entries, idx, idx+1)
	return e, true
}

// find returns the index of the newest entry satisfying ok, or -1.
func (h *history) find(ok func(HistoryEntry) bool) int {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if ok(h.entries[i]) {
			return i
		}
	}
	return -1
}

func (h *history) snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}

// restore applies the inverse of e to the page. It returns false when the
// element no longer exists.
func (a *Actuator) restore(ctx context.Context, e HistoryEntry) (bool, error) {
	doc, err := a.host.Document(ctx)
	if err != nil {
		return false, fmt.Errorf("actuate: snapshot page: %w", err)
	}
	n := doc.Lookup(e.TargetID)
	if n == nil {
		slog.Warn("actuate: undo target no longer exists", "target", e.TargetLabel, "path", e.TargetID)
		return false, nil
	}
	switch e.Kind {
	case HistoryValue:
		if err := a.host.SetValue(ctx, n, e.PreviousValue); err != nil {
			return false, fmt.Errorf("actuate: restore value: %w", err)
		}
		if err := a.dispatch(ctx, n, dom.EventInput, dom.EventChange); err != nil {
			return false, err
		}
	case HistoryChecked:
		if err := a.host.SetChecked(ctx, n, e.PreviousChecked); err != nil {
			return false, fmt.Errorf("actuate: restore checked: %w", err)
		}
		if err := a.dispatch(ctx, n, dom.EventChange); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("actuate: unknown history kind %d", e.Kind)
	}
	return true, nil
}
