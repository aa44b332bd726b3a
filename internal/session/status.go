package session

import (
	"slices"
	"sync"
	"time"
)

// State is a phase of the voice session.
type State int

const (
	// Idle: no session is active. The wake-word listener, if any, runs.
	Idle State = iota

	// Waiting: a session was triggered and the microphone is being opened.
	Waiting

	// Listening: the microphone is open and no one is speaking.
	Listening

	// Recording: speech is being captured.
	Recording

	// Processing: an utterance is being transcribed and recognised.
	Processing

	// Executing: recognised intents are being applied to the page.
	Executing

	// Error: an infrastructure failure is shown to the user until the
	// automatic reset.
	Error
)

var stateNames = [...]string{
	Idle:       "IDLE",
	Waiting:    "WAITING",
	Listening:  "LISTENING",
	Recording:  "RECORDING",
	Processing: "PROCESSING",
	Executing:  "EXECUTING",
	Error:      "ERROR",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a snapshot of the session state.
type Status struct {
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Since   time.Time `json:"since"`
}

// Machine holds the current [Status] and notifies subscribers of every
// change. Only the [Orchestrator] that owns the machine writes to it; any
// goroutine may read or subscribe.
type Machine struct {
	mu   sync.Mutex
	cur  Status
	subs map[int]func(Status)
	next int
}

// NewMachine returns a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{
		cur:  Status{State: Idle, Since: time.Now()},
		subs: make(map[int]func(Status)),
	}
}

// Current returns the latest status.
func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Subscribe registers fn for every subsequent status change. Callbacks run
// synchronously on the writer's goroutine in registration order and must not
// block. The returned function removes the subscription.
func (m *Machine) Subscribe(fn func(Status)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// set records a new status and notifies subscribers. Setting the current
// state again with the same message is not reported.
func (m *Machine) set(state State, msg string) bool {
	m.mu.Lock()
	if m.cur.State == state && m.cur.Message == msg {
		m.mu.Unlock()
		return false
	}
	m.cur = Status{State: state, Message: msg, Since: time.Now()}
	st := m.cur
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Status), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
	return true
}
