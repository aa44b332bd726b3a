package journal

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Journal] and makes all operations non-fatal. Failed writes
// are logged and swallowed; failed reads return an empty slice. Degraded
// reports whether the most recent operation on the wrapped journal failed.
//
// All methods are safe for concurrent use.
type Guard struct {
	j        Journal
	degraded atomic.Bool
}

var _ Journal = (*Guard)(nil)

// NewGuard wraps j.
func NewGuard(j Journal) *Guard {
	return &Guard{j: j}
}

func (g *Guard) Record(ctx context.Context, e Entry) error {
	if err := g.j.Record(ctx, e); err != nil {
		g.degraded.Store(true)
		slog.Warn("journal guard: Record failed, swallowing error",
			"session_id", e.SessionID,
			"kind", e.Intent.Kind,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

func (g *Guard) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	entries, err := g.j.Recent(ctx, sessionID, limit)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("journal guard: Recent failed, returning empty", "session_id", sessionID, "err", err)
		return []Entry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// Degraded reports whether the wrapped journal is currently failing.
func (g *Guard) Degraded() bool { return g.degraded.Load() }
