package session

import (
	"testing"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    State
		want string
	}{
		{Idle, "IDLE"},
		{Waiting, "WAITING"},
		{Listening, "LISTENING"},
		{Recording, "RECORDING"},
		{Processing, "PROCESSING"},
		{Executing, "EXECUTING"},
		{Error, "ERROR"},
		{State(42), "UNKNOWN"},
		{State(-1), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestMachine_SetNotifiesInOrder(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	if m.Current().State != Idle {
		t.Fatalf("initial state = %s, want IDLE", m.Current().State)
	}

	var order []string
	m.Subscribe(func(s Status) { order = append(order, "first:"+s.State.String()) })
	m.Subscribe(func(s Status) { order = append(order, "second:"+s.State.String()) })

	if !m.set(Listening, "") {
		t.Fatal("set should report a change")
	}
	want := []string{"first:LISTENING", "second:LISTENING"}
	if len(order) != len(want) {
		t.Fatalf("notifications = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestMachine_SetDeduplicates(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	var n int
	m.Subscribe(func(Status) { n++ })

	m.set(Error, "Microphone busy in another instance.")
	if m.set(Error, "Microphone busy in another instance.") {
		t.Error("same state and message should not be reported")
	}
	if !m.set(Error, "Please allow microphone access.") {
		t.Error("a new message should be reported")
	}
	if n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}
	if got := m.Current().Message; got != "Please allow microphone access." {
		t.Errorf("message = %q", got)
	}
}

func TestMachine_CancelSubscription(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	var n int
	cancel := m.Subscribe(func(Status) { n++ })
	m.set(Waiting, "")
	cancel()
	cancel()
	m.set(Listening, "")
	if n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}
