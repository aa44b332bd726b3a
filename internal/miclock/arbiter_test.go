package miclock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTest(t *testing.T, bus Bus, id string) *Arbiter {
	t.Helper()
	a, err := Open(context.Background(), bus,
		WithID(id),
		WithProbeTimeout(60*time.Millisecond),
		WithHeartbeatInterval(20*time.Millisecond),
		WithStaleAfter(300*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAcquire_FreeMicrophone(t *testing.T) {
	t.Parallel()

	a := openTest(t, NewMemoryBus(), "a")
	if err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !a.Owner() {
		t.Error("arbiter should own the lease")
	}
	if err := a.Acquire(context.Background()); err != nil {
		t.Errorf("re-acquire by owner: %v", err)
	}
}

func TestAcquire_BusyWhenOwned(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	a := openTest(t, bus, "a")
	b := openTest(t, bus, "b")

	if err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("a.Acquire: %v", err)
	}
	err := b.Acquire(context.Background())
	if !errors.Is(err, ErrMicrophoneBusy) {
		t.Fatalf("b.Acquire err = %v, want ErrMicrophoneBusy", err)
	}
	if b.Owner() {
		t.Error("b must not own the lease")
	}
	if l, ok := b.Current(); !ok || l.OwnerID != "a" {
		t.Errorf("b sees lease %+v ok=%v, want owner a", l, ok)
	}
}

func TestAcquire_ConcurrentAttemptsYieldOneOwner(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	arbiters := []*Arbiter{openTest(t, bus, "a"), openTest(t, bus, "b"), openTest(t, bus, "c")}

	errs := make([]error, len(arbiters))
	var wg sync.WaitGroup
	for i, a := range arbiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = a.Acquire(context.Background())
		}()
	}
	wg.Wait()

	var owners int
	for i, err := range errs {
		switch {
		case err == nil:
			owners++
		case errors.Is(err, ErrMicrophoneBusy):
		default:
			t.Errorf("arbiter %d: unexpected error %v", i, err)
		}
	}
	if owners != 1 {
		t.Fatalf("owners = %d, want exactly 1 (errs=%v)", owners, errs)
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	a := openTest(t, bus, "a")
	b := openTest(t, bus, "b")

	if err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("a.Acquire: %v", err)
	}
	if err := a.Release(context.Background()); err != nil {
		t.Fatalf("a.Release: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		err := b.Acquire(context.Background())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("b could not acquire after release: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a.Owner() {
		t.Error("a should no longer own the lease")
	}
}

func TestStaleLeaseIsIgnored(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	b := openTest(t, bus, "b")

	// A crashed owner: one heartbeat, then silence.
	if err := bus.Publish(context.Background(), Message{Kind: KindHeartbeat, OwnerID: "ghost"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(350 * time.Millisecond)

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire with stale lease: %v", err)
	}
}

func TestLost_WhenSmallerIDClaims(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	b := openTest(t, bus, "b")
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := bus.Publish(context.Background(), Message{Kind: KindHeartbeat, OwnerID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-b.Lost():
	case <-time.After(time.Second):
		t.Fatal("expected lease loss notification")
	}
	if b.Owner() {
		t.Error("b should have yielded")
	}
}

func TestMemoryBus_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	ch, cancel, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if err := bus.Publish(context.Background(), Message{Kind: KindProbe}); err != nil {
		t.Errorf("publish after cancel: %v", err)
	}
}
