// Package miclock guarantees that at most one Voxact instance holds the
// microphone at a time.
//
// Instances coordinate over a broadcast [Bus]. A joining instance probes for
// an existing owner and waits a bounded time for a heartbeat; silence means
// the microphone is free. The new owner claims it with a heartbeat, repeats
// the heartbeat periodically and broadcasts a resignation on release.
//
// Two instances that claim at the same moment both see the other's claim;
// the one with the lexicographically smaller ID keeps the lease and the other
// backs off with [ErrMicrophoneBusy].
package miclock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMicrophoneBusy is returned by Acquire when another instance holds the
// microphone.
var ErrMicrophoneBusy = errors.New("miclock: microphone busy in another instance")

// Defaults for the protocol timings.
const (
	DefaultProbeTimeout      = 300 * time.Millisecond
	DefaultHeartbeatInterval = time.Second
	DefaultStaleAfter        = 3 * time.Second
)

// Lease describes the current owner as seen by this arbiter.
type Lease struct {
	OwnerID       string
	LastHeartbeat time.Time
}

// Arbiter negotiates microphone ownership for one instance.
type Arbiter struct {
	id                string
	bus               Bus
	probeTimeout      time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration

	mu       sync.Mutex
	owner    bool
	seen     map[string]time.Time
	heard    chan string
	stopBeat chan struct{}

	lost chan struct{}

	cancelSub func()
	wg        sync.WaitGroup
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithID sets the owner ID. Defaults to a random UUID.
func WithID(id string) Option {
	return func(a *Arbiter) { a.id = id }
}

// WithProbeTimeout sets how long Acquire waits for an existing owner.
func WithProbeTimeout(d time.Duration) Option {
	return func(a *Arbiter) { a.probeTimeout = d }
}

// WithHeartbeatInterval sets how often the owner announces itself.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(a *Arbiter) { a.heartbeatInterval = d }
}

// WithStaleAfter sets how long a heartbeat keeps a foreign lease alive.
func WithStaleAfter(d time.Duration) Option {
	return func(a *Arbiter) { a.staleAfter = d }
}

// Open subscribes to bus and starts processing arbitration messages. Call
// Close to release the lease and stop.
func Open(ctx context.Context, bus Bus, opts ...Option) (*Arbiter, error) {
	a := &Arbiter{
		id:                uuid.NewString(),
		bus:               bus,
		probeTimeout:      DefaultProbeTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		staleAfter:        DefaultStaleAfter,
		seen:              make(map[string]time.Time),
		heard:             make(chan string, 16),
		lost:              make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}

	msgs, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("miclock: subscribe: %w", err)
	}
	a.cancelSub = cancel

	a.wg.Add(1)
	go a.loop(msgs)
	return a, nil
}

// ID returns the owner ID this arbiter announces.
func (a *Arbiter) ID() string { return a.id }

// Owner reports whether this arbiter currently holds the lease.
func (a *Arbiter) Owner() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Lost receives a value whenever this arbiter gives up the lease to a
// competing owner without Release being called.
func (a *Arbiter) Lost() <-chan struct{} { return a.lost }

// Current returns the freshest foreign lease this arbiter has observed, or
// its own lease while it is the owner.
func (a *Arbiter) Current() (Lease, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner {
		return Lease{OwnerID: a.id, LastHeartbeat: time.Now()}, true
	}
	var l Lease
	for id, at := range a.seen {
		if time.Since(at) < a.staleAfter && at.After(l.LastHeartbeat) {
			l = Lease{OwnerID: id, LastHeartbeat: at}
		}
	}
	return l, l.OwnerID != ""
}

// Acquire tries to become the owner. It returns nil when the lease is held
// (including when it already was) and ErrMicrophoneBusy when another
// instance owns the microphone.
func (a *Arbiter) Acquire(ctx context.Context) error {
	if a.Owner() {
		return nil
	}
	a.drainHeard()

	if err := a.publish(ctx, KindProbe); err != nil {
		return err
	}
	if a.heardWithin(ctx, a.probeTimeout, func(string) bool { return true }) {
		return ErrMicrophoneBusy
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("miclock: acquire: %w", err)
	}
	if _, ok := a.Current(); ok {
		return ErrMicrophoneBusy
	}

	// Claim, then give concurrent claimants a chance to object.
	if err := a.publish(ctx, KindHeartbeat); err != nil {
		return err
	}
	settle := max(a.probeTimeout/2, 10*time.Millisecond)
	if a.heardWithin(ctx, settle, func(id string) bool { return id < a.id }) {
		slog.Debug("miclock: lost concurrent claim", "id", a.id)
		return ErrMicrophoneBusy
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("miclock: acquire: %w", err)
	}

	a.mu.Lock()
	a.owner = true
	a.stopBeat = make(chan struct{})
	stop := a.stopBeat
	a.mu.Unlock()

	a.wg.Add(1)
	go a.heartbeat(stop)
	slog.Info("miclock: microphone acquired", "id", a.id)
	return nil
}

// Release gives up the lease and broadcasts a resignation. It is a no-op
// when this arbiter is not the owner.
func (a *Arbiter) Release(ctx context.Context) error {
	if !a.yield() {
		return nil
	}
	slog.Info("miclock: microphone released", "id", a.id)
	return a.publish(ctx, KindResign)
}

// Close releases the lease and stops the arbiter.
func (a *Arbiter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := a.Release(ctx)
	a.cancelSub()
	a.wg.Wait()
	return err
}

// yield drops ownership. It reports whether this arbiter was the owner.
func (a *Arbiter) yield() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.owner {
		return false
	}
	a.owner = false
	close(a.stopBeat)
	a.stopBeat = nil
	return true
}

func (a *Arbiter) publish(ctx context.Context, kind MessageKind) error {
	err := a.bus.Publish(ctx, Message{Kind: kind, OwnerID: a.id, SentAt: time.Now()})
	if err != nil {
		return fmt.Errorf("miclock: %s: %w", kind, err)
	}
	return nil
}

func (a *Arbiter) drainHeard() {
	for {
		select {
		case <-a.heard:
		default:
			return
		}
	}
}

// heardWithin waits up to d for a heartbeat whose sender satisfies keep.
func (a *Arbiter) heardWithin(ctx context.Context, d time.Duration, keep func(id string) bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case id := <-a.heard:
			if keep(id) {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (a *Arbiter) heartbeat(stop <-chan struct{}) {
	defer a.wg.Done()
	t := time.NewTicker(a.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.heartbeatInterval)
			if err := a.publish(ctx, KindHeartbeat); err != nil {
				slog.Warn("miclock: heartbeat failed", "err", err)
			}
			cancel()
		}
	}
}

func (a *Arbiter) loop(msgs <-chan Message) {
	defer a.wg.Done()
	for msg := range msgs {
		if msg.OwnerID == a.id {
			continue
		}
		switch msg.Kind {
		case KindHeartbeat:
			a.onHeartbeat(msg.OwnerID)
		case KindProbe:
			if a.Owner() {
				ctx, cancel := context.WithTimeout(context.Background(), a.probeTimeout)
				if err := a.publish(ctx, KindHeartbeat); err != nil {
					slog.Warn("miclock: probe reply failed", "err", err)
				}
				cancel()
			}
		case KindResign:
			a.mu.Lock()
			delete(a.seen, msg.OwnerID)
			a.mu.Unlock()
		}
	}
}

func (a *Arbiter) onHeartbeat(from string) {
	a.mu.Lock()
	a.seen[from] = time.Now()
	owner := a.owner
	a.mu.Unlock()

	select {
	case a.heard <- from:
	default:
	}

	if owner && from < a.id && a.yield() {
		slog.Warn("miclock: lease taken over by another instance", "id", a.id, "new_owner", from)
		select {
		case a.lost <- struct{}{}:
		default:
		}
	}
}
