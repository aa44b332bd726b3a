// Package session drives a voice session from trigger to executed intents.
//
// The [Orchestrator] owns a [Machine] and is its only writer. One goroutine
// ([Orchestrator.Run]) handles triggers, capture events and recognition
// results in order, so at most one utterance is ever in flight and intents
// are applied strictly one after another. Transcription and recognition run
// on a helper goroutine; their results are dropped when the session was
// stopped in the meantime.
//
// Lifecycle:
//
//	IDLE ─start/wake─▶ WAITING ─mic open─▶ LISTENING ─speech─▶ RECORDING
//	RECORDING ─utterance─▶ PROCESSING ─intents─▶ EXECUTING ─▶ LISTENING | IDLE
//	any ─failure─▶ ERROR ─after ErrorReset─▶ IDLE
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxact/internal/capture"
	"github.com/MrWong99/voxact/internal/journal"
	"github.com/MrWong99/voxact/internal/observe"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/provider/stt"
	"github.com/MrWong99/voxact/pkg/types"
)

// DefaultErrorReset is how long an error stays visible before the session
// returns to Idle.
const DefaultErrorReset = 3 * time.Second

// Executor applies one intent to the page. *actuate.Actuator implements it.
type Executor interface {
	Execute(ctx context.Context, intent types.Intent) (bool, error)
}

// WakeListener listens for the wake phrase while no session is active.
// *wakeword.Listener implements it.
type WakeListener interface {
	// Start begins listening and calls onWake when the wake phrase is heard.
	Start(ctx context.Context, onWake func()) error

	// Stop releases the microphone. Stop on a stopped listener is a no-op.
	Stop() error
}

// StopDetector recognises the phrase that ends a session.
type StopDetector interface {
	IsStop(text string) bool
}

// Corrector repairs recognition errors in a transcript before intent
// detection. *transcript.Corrector implements it.
type Corrector interface {
	Correct(ctx context.Context, text string) string
}

// Config wires an [Orchestrator] to its collaborators. Capturer, Recognizer
// and Executor are required; Transcriber is required unless the capturer
// delivers text.
type Config struct {
	Capturer    capture.Capturer
	Transcriber stt.Transcriber
	Recognizer  nlu.Recognizer
	Executor    Executor

	Wake      WakeListener
	Stop      StopDetector
	Corrector Corrector
	Journal   journal.Journal
	Metrics   *observe.Metrics

	// ErrorReset is the delay between an error and the return to Idle.
	// Default: DefaultErrorReset.
	ErrorReset time.Duration

	// IntentDelay is an optional pause between intents of one utterance.
	IntentDelay time.Duration
}

type command int

const (
	cmdStart command = iota + 1
	cmdStop
	cmdWake
)

type captureEvent struct {
	gen int
	ev  capture.Event
}

type result struct {
	gen     int
	text    string
	stop    bool
	intents []types.Intent
	err     error
}

// Orchestrator runs the session state machine.
type Orchestrator struct {
	cfg     Config
	machine *Machine

	cmds    chan command
	events  chan captureEvent
	results chan result

	// active mirrors the user's wish; Stop clears it immediately so a
	// running execution can see it.
	active atomic.Bool

	// The fields below are owned by the Run goroutine.
	running     bool
	inFlight    bool
	gen         int
	sessionID   string
	cycleCtx    context.Context
	cycleCancel context.CancelFunc
	resetTimer  *time.Timer
	resetC      <-chan time.Time
	wg          sync.WaitGroup
}

// New validates cfg and returns an Orchestrator in the Idle state.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Capturer == nil {
		errs = append(errs, errors.New("capturer is required"))
	}
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if cfg.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.ErrorReset <= 0 {
		cfg.ErrorReset = DefaultErrorReset
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	return &Orchestrator{
		cfg:     cfg,
		machine: NewMachine(),
		cmds:    make(chan command, 16),
		events:  make(chan captureEvent, 64),
		results: make(chan result, 1),
	}, nil
}

// Machine exposes the state machine for reading and subscriptions.
func (o *Orchestrator) Machine() *Machine { return o.machine }

// Status returns the current status.
func (o *Orchestrator) Status() Status { return o.machine.Current() }

// Active reports whether a session is active or being started.
func (o *Orchestrator) Active() bool { return o.active.Load() }

// Start triggers a session, as if the user pressed the microphone button.
func (o *Orchestrator) Start() { o.send(cmdStart) }

// Stop force-stops the session from any state.
func (o *Orchestrator) Stop() {
	o.active.Store(false)
	o.send(cmdStop)
}

func (o *Orchestrator) send(c command) {
	select {
	case o.cmds <- c:
	default:
		slog.Warn("session: command queue full, dropping", "command", c)
	}
}

// Run processes events until ctx is cancelled. It must be called exactly
// once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.resumeWake(ctx)
	defer o.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-o.cmds:
			switch c {
			case cmdStart, cmdWake:
				o.activate(ctx, c == cmdWake)
			case cmdStop:
				o.forceStop(ctx, "stopped")
			}

		case e := <-o.events:
			o.onCapture(ctx, e)

		case r := <-o.results:
			o.onResult(ctx, r)

		case <-o.resetC:
			o.resetTimer, o.resetC = nil, nil
			o.set(Idle, "")
			o.resumeWake(ctx)
		}
	}
}

func (o *Orchestrator) set(state State, msg string) {
	if !o.machine.set(state, msg) {
		return
	}
	slog.Debug("session: state changed", "state", state, "message", msg)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordTransition(context.Background(), state.String())
	}
}

func (o *Orchestrator) activate(ctx context.Context, byWake bool) {
	switch {
	case o.running:
		return
	case o.machine.Current().State == Error:
		slog.Debug("session: start ignored while showing an error")
		return
	}

	o.active.Store(true)
	o.running = true
	o.inFlight = false
	o.gen++
	o.sessionID = uuid.NewString()
	o.cycleCtx, o.cycleCancel = context.WithCancel(observe.WithSessionID(ctx, o.sessionID))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session: started", "session_id", o.sessionID, "wake", byWake)

	o.set(Waiting, "")
	o.suspendWake()

	gen := o.gen
	listener := func(ev capture.Event) {
		select {
		case o.events <- captureEvent{gen: gen, ev: ev}:
		default:
			slog.Warn("session: capture event dropped", "kind", ev.Kind)
		}
	}
	if err := o.cfg.Capturer.Start(o.cycleCtx, listener); err != nil {
		o.fail(ctx, err)
	}
}

func (o *Orchestrator) onCapture(ctx context.Context, e captureEvent) {
	if e.gen != o.gen || !o.running {
		return
	}
	switch e.ev.Kind {
	case capture.ListeningStarted:
		if !o.inFlight {
			o.set(Listening, "")
		}
	case capture.RecordingStarted:
		if !o.inFlight {
			o.set(Recording, "")
		}
	case capture.RecordingStopped:
	case capture.UtteranceReady:
		if o.inFlight {
			slog.Warn("session: utterance dropped, previous one still in flight")
			o.recordUtterance(ctx, "dropped")
			return
		}
		o.inFlight = true
		o.set(Processing, "")
		o.wg.Add(1)
		go o.process(o.cycleCtx, e.gen, e.ev)
	case capture.Failed:
		o.fail(ctx, e.ev.Err)
	}
}

// process transcribes and recognises one utterance. It runs on its own
// goroutine and reports back through o.results.
func (o *Orchestrator) process(ctx context.Context, gen int, ev capture.Event) {
	defer o.wg.Done()
	res := o.recognize(ctx, gen, ev)
	select {
	case o.results <- res:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) recognize(ctx context.Context, gen int, ev capture.Event) result {
	res := result{gen: gen}
	ctx, span := observe.StartSpan(ctx, "session.utterance")
	defer span.End()
	log := observe.Logger(ctx)

	text := ev.Text
	if len(ev.WAV) > 0 {
		if o.cfg.Transcriber == nil {
			res.err = errors.New("session: no transcriber configured for audio utterances")
			return res
		}
		tctx, tspan := observe.StartSpan(ctx, "session.transcribe")
		start := time.Now()
		var err error
		text, err = o.cfg.Transcriber.Transcribe(tctx, ev.WAV)
		tspan.End()
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			res.err = fmt.Errorf("session: transcribe: %w", err)
			return res
		}
	}
	text = strings.TrimSpace(text)
	res.text = text
	span.SetAttributes(attribute.String("utterance.text", text))
	if text == "" {
		return res
	}
	if o.cfg.Stop != nil && o.cfg.Stop.IsStop(text) {
		log.Info("session: stop phrase heard", "text", text)
		res.stop = true
		return res
	}
	if o.cfg.Corrector != nil {
		if fixed := o.cfg.Corrector.Correct(ctx, text); fixed != text {
			log.Debug("session: transcript corrected", "from", text, "to", fixed)
			text = fixed
			res.text = fixed
		}
	}

	rctx, rspan := observe.StartSpan(ctx, "session.recognize")
	start := time.Now()
	intents, err := o.cfg.Recognizer.DetectIntents(rctx, text)
	rspan.SetAttributes(attribute.Int("intents", len(intents)))
	rspan.End()
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		res.err = fmt.Errorf("session: recognize: %w", err)
		return res
	}
	log.Info("session: intents recognised", "text", text, "count", len(intents))
	res.intents = intents
	return res
}

func (o *Orchestrator) onResult(ctx context.Context, r result) {
	if r.gen != o.gen || !o.running || !o.active.Load() {
		slog.Debug("session: result dropped after deactivation")
		return
	}
	o.inFlight = false

	switch {
	case r.err != nil:
		if errors.Is(r.err, context.Canceled) {
			slog.Debug("session: cycle cancelled", "err", r.err)
			o.recordUtterance(ctx, "cancelled")
			o.afterCycle(ctx)
			return
		}
		o.recordUtterance(ctx, "error")
		o.fail(ctx, r.err)
	case r.stop:
		o.recordUtterance(ctx, "stopped")
		o.active.Store(false)
		o.forceStop(ctx, "stop phrase")
	case len(r.intents) == 0:
		o.recordUtterance(ctx, "empty")
		o.afterCycle(ctx)
	default:
		if ok := o.execute(r.text, r.intents); ok {
			o.recordUtterance(ctx, "executed")
		} else if o.running {
			o.recordUtterance(ctx, "partial")
		}
		if o.running {
			o.afterCycle(ctx)
		}
	}
}

// execute applies intents in order. It reports the AND of their outcomes;
// a failed intent does not stop the ones after it. An infrastructure error
// from the page host moves the session to Error.
func (o *Orchestrator) execute(text string, intents []types.Intent) bool {
	o.set(Executing, "")
	ctx := o.cycleCtx
	all := true
	for i, in := range intents {
		if i > 0 && o.cfg.IntentDelay > 0 {
			select {
			case <-time.After(o.cfg.IntentDelay):
			case <-ctx.Done():
			}
		}

		ictx, span := observe.StartSpan(ctx, "session.intent",
			trace.WithAttributes(attribute.String("intent.kind", string(in.Kind))))
		start := time.Now()
		ok, err := o.cfg.Executor.Execute(ictx, in)
		elapsed := time.Since(start)
		span.SetAttributes(attribute.Bool("intent.success", ok))
		span.End()

		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordIntent(ctx, string(in.Kind), ok, elapsed)
		}
		entry := journal.Entry{
			SessionID: o.sessionID,
			Utterance: text,
			Intent:    in,
			Success:   ok,
			At:        start,
			Duration:  elapsed,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if jerr := o.cfg.Journal.Record(ctx, entry); jerr != nil {
			slog.Warn("session: journal write failed", "err", jerr)
		}

		if err != nil {
			o.fail(ctx, fmt.Errorf("session: execute %s: %w", in.Kind, err))
			return false
		}
		if !ok {
			slog.Warn("session: intent failed", "kind", in.Kind)
		}
		all = all && ok
	}
	slog.Info("session: utterance executed", "intents", len(intents), "success", all)
	return all
}

// afterCycle returns to Listening while the session is active and to Idle
// once it was deactivated.
func (o *Orchestrator) afterCycle(ctx context.Context) {
	if !o.active.Load() {
		o.forceStop(ctx, "deactivated")
		return
	}
	if !o.cfg.Capturer.Running() {
		gen := o.gen
		listener := func(ev capture.Event) {
			select {
			case o.events <- captureEvent{gen: gen, ev: ev}:
			default:
			}
		}
		if err := o.cfg.Capturer.Start(o.cycleCtx, listener); err != nil {
			o.fail(ctx, err)
			return
		}
	}
	o.set(Listening, "")
}

// fail surfaces err unless the session is already idle or showing an error.
func (o *Orchestrator) fail(ctx context.Context, err error) {
	switch st := o.machine.Current().State; st {
	case Idle, Error:
		slog.Debug("session: error swallowed", "state", st, "err", err)
		return
	}
	reason, msg := Classify(err)
	slog.Error("session: failure", "reason", reason, "err", err)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordSessionError(ctx, string(reason))
	}

	o.active.Store(false)
	o.teardown(ctx)
	o.set(Error, msg)
	o.stopResetTimer()
	o.resetTimer = time.NewTimer(o.cfg.ErrorReset)
	o.resetC = o.resetTimer.C
}

// forceStop ends the session and returns to Idle from any state.
func (o *Orchestrator) forceStop(ctx context.Context, why string) {
	if !o.running && o.machine.Current().State != Error {
		return
	}
	slog.Info("session: stopped", "session_id", o.sessionID, "reason", why)
	o.teardown(ctx)
	o.stopResetTimer()
	o.set(Idle, "")
	o.resumeWake(ctx)
}

// teardown stops capture and invalidates in-flight work.
func (o *Orchestrator) teardown(ctx context.Context) {
	if !o.running {
		return
	}
	o.running = false
	o.inFlight = false
	o.gen++
	if err := o.cfg.Capturer.Stop(); err != nil {
		slog.Warn("session: stop capture", "err", err)
	}
	if o.cycleCancel != nil {
		o.cycleCancel()
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
}

func (o *Orchestrator) stopResetTimer() {
	if o.resetTimer != nil {
		o.resetTimer.Stop()
		o.resetTimer, o.resetC = nil, nil
	}
}

func (o *Orchestrator) suspendWake() {
	if o.cfg.Wake == nil {
		return
	}
	if err := o.cfg.Wake.Stop(); err != nil {
		slog.Warn("session: suspend wake listener", "err", err)
	}
}

func (o *Orchestrator) resumeWake(ctx context.Context) {
	if o.cfg.Wake == nil {
		return
	}
	err := o.cfg.Wake.Start(ctx, func() { o.send(cmdWake) })
	if err != nil {
		slog.Warn("session: wake listener unavailable", "err", err)
	}
}

func (o *Orchestrator) recordUtterance(ctx context.Context, outcome string) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordUtterance(ctx, outcome)
	}
}

func (o *Orchestrator) shutdown() {
	o.active.Store(false)
	o.teardown(context.Background())
	o.stopResetTimer()
	o.suspendWake()
	o.wg.Wait()
}
