// Package journal records every executed intent of a voice session.
//
// The journal is an audit trail: it is written after each intent and read
// back by the replay command and the status endpoint. A failing journal never
// interrupts a session; wrap stores in a [Guard] to make writes non-fatal.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxact/pkg/types"
)

// Entry is one executed intent.
type Entry struct {
	SessionID string
	Utterance string
	Intent    types.Intent
	Success   bool
	// Error is set when the page host reported an infrastructure failure.
	Error    string
	At       time.Time
	Duration time.Duration
}

// Journal stores entries.
type Journal interface {
	// Record appends e.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries of sessionID, oldest first. An empty
	// sessionID selects entries of all sessions.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// Nop discards every entry.
type Nop struct{}

var _ Journal = Nop{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]Entry, error) { return []Entry{}, nil }

// Memory keeps entries in process. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

var _ Journal = (*Memory)(nil)

// NewMemory returns a journal holding at most max entries; older entries are
// evicted first. max <= 0 means unbounded.
func NewMemory(max int) *Memory {
	return &Memory{max: max}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if m.max > 0 && len(m.entries) > m.max {
		m.entries = append([]Entry(nil), m.entries[len(m.entries)-m.max:]...)
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for _, e := range m.entries {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
