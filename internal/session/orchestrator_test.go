package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"

	"github.com/MrWong99/voxact/internal/capture"
	"github.com/MrWong99/voxact/internal/journal"
	"github.com/MrWong99/voxact/internal/miclock"
	"github.com/MrWong99/voxact/internal/observe"
	"github.com/MrWong99/voxact/internal/session"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	nlumock "github.com/MrWong99/voxact/pkg/provider/nlu/mock"
	sttmock "github.com/MrWong99/voxact/pkg/provider/stt/mock"
	"github.com/MrWong99/voxact/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCapturer hands control of capture events to the test.
type fakeCapturer struct {
	mu       sync.Mutex
	listener capture.Listener
	running  bool
	startErr error
	starts   int
	stops    int
}

var _ capture.Capturer = (*fakeCapturer)(nil)

func (f *fakeCapturer) Start(_ context.Context, l capture.Listener) error {
	f.mu.Lock()
	f.starts++
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	f.running = true
	f.listener = l
	f.mu.Unlock()
	l(capture.Event{Kind: capture.ListeningStarted})
	return nil
}

func (f *fakeCapturer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
	return nil
}

func (f *fakeCapturer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCapturer) emit(ev capture.Event) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(ev)
	}
}

func (f *fakeCapturer) utterance() {
	f.emit(capture.Event{Kind: capture.RecordingStarted})
	f.emit(capture.Event{Kind: capture.RecordingStopped})
	f.emit(capture.Event{Kind: capture.UtteranceReady, WAV: []byte("RIFF")})
}

func (f *fakeCapturer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeExecutor records executed intents.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []types.Intent
	fail     map[types.IntentKind]bool
	err      error
}

func (e *fakeExecutor) Execute(_ context.Context, in types.Intent) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, in)
	if e.err != nil {
		return false, e.err
	}
	return !e.fail[in.Kind], nil
}

func (e *fakeExecutor) kinds() []types.IntentKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.IntentKind, 0, len(e.executed))
	for _, in := range e.executed {
		out = append(out, in.Kind)
	}
	return out
}

// fakeWake records start/stop calls and lets the test fire the wake phrase.
type fakeWake struct {
	mu     sync.Mutex
	onWake func()
	starts int
	stops  int
}

func (w *fakeWake) Start(_ context.Context, onWake func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	w.onWake = onWake
	return nil
}

func (w *fakeWake) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	w.onWake = nil
	return nil
}

func (w *fakeWake) fire() bool {
	w.mu.Lock()
	fn := w.onWake
	w.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (w *fakeWake) counts() (starts, stops int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts, w.stops
}

type stopWords []string

func (s stopWords) IsStop(text string) bool {
	for _, w := range s {
		if strings.EqualFold(strings.TrimSpace(text), w) {
			return true
		}
	}
	return false
}

func intent(kind types.IntentKind) types.Intent {
	return types.Intent{Kind: kind, Confidence: 1, Entities: types.Entities{}}
}

type harness struct {
	orch   *session.Orchestrator
	cap    *fakeCapturer
	exec   *fakeExecutor
	states chan session.Status
}

// start builds an orchestrator around cfg, fills in fakes for missing
// collaborators and runs it until the test ends.
func start(t *testing.T, cfg session.Config) *harness {
	t.Helper()
	h := &harness{states: make(chan session.Status, 128)}
	if cfg.Capturer == nil {
		cfg.Capturer = &fakeCapturer{}
	}
	h.cap, _ = cfg.Capturer.(*fakeCapturer)
	if cfg.Executor == nil {
		cfg.Executor = &fakeExecutor{}
	}
	h.exec, _ = cfg.Executor.(*fakeExecutor)
	if cfg.Recognizer == nil {
		cfg.Recognizer = &nlumock.Recognizer{}
	}
	if cfg.ErrorReset == 0 {
		cfg.ErrorReset = 50 * time.Millisecond
	}

	o, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = o
	o.Machine().Subscribe(func(s session.Status) {
		select {
		case h.states <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := o.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// await reads status changes until want is reached.
func (h *harness) await(t *testing.T, want session.State) session.Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (current %s)", want, h.orch.Status().State)
		}
	}
}

// awaitSequence asserts that the next status changes are exactly want.
func (h *harness) awaitSequence(t *testing.T, want ...session.State) {
	t.Helper()
	for i, w := range want {
		select {
		case s := <-h.states:
			if s.State != w {
				t.Fatalf("transition %d = %s, want %s", i, s.State, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for transition %d (%s)", i, w)
		}
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := session.New(session.Config{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, part := range []string{"capturer", "recognizer", "executor"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error %q does not mention %s", err, part)
		}
	}
}

func TestOrchestrator_FullCycle(t *testing.T) {
	t.Parallel()

	stt := &sttmock.Transcriber{Texts: []string{"fill name with alex and press submit"}}
	rec := &nlumock.Recognizer{Default: []types.Intent{intent(types.IntentFill), intent(types.IntentClick)}}
	j := journal.NewMemory(0)
	h := start(t, session.Config{Transcriber: stt, Recognizer: rec, Journal: j})

	h.orch.Start()
	h.awaitSequence(t, session.Waiting, session.Listening)

	h.cap.utterance()
	h.awaitSequence(t, session.Recording, session.Processing, session.Executing, session.Listening)

	if got := h.exec.kinds(); len(got) != 2 || got[0] != types.IntentFill || got[1] != types.IntentClick {
		t.Errorf("executed = %v, want [fill click]", got)
	}
	if stt.CallCount() != 1 {
		t.Errorf("transcriptions = %d, want 1", stt.CallCount())
	}
	entries, _ := j.Recent(context.Background(), "", 0)
	if len(entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(entries))
	}
	if entries[0].SessionID == "" || entries[0].SessionID != entries[1].SessionID {
		t.Errorf("session ids = %q, %q", entries[0].SessionID, entries[1].SessionID)
	}
	if entries[0].Utterance != "fill name with alex and press submit" || !entries[0].Success {
		t.Errorf("entry = %+v", entries[0])
	}
	if !h.orch.Active() {
		t.Error("session should still be active")
	}
}

func TestOrchestrator_TextUtteranceSkipsTranscription(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Default: []types.Intent{intent(types.IntentScroll)}}
	h := start(t, session.Config{Recognizer: rec})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "  scroll down "})
	h.await(t, session.Executing)
	h.await(t, session.Listening)

	if rec.CallCount() != 1 || rec.Texts[0] != "scroll down" {
		t.Errorf("recognizer texts = %v", rec.Texts)
	}
}

func TestOrchestrator_PartialFailureKeepsGoing(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Default: []types.Intent{intent(types.IntentClick), intent(types.IntentScroll)}}
	exec := &fakeExecutor{fail: map[types.IntentKind]bool{types.IntentClick: true}}
	h := start(t, session.Config{Recognizer: rec, Executor: exec})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "click nowhere and scroll down"})
	h.await(t, session.Executing)
	h.await(t, session.Listening)

	if got := exec.kinds(); len(got) != 2 {
		t.Errorf("executed = %v, want both intents", got)
	}
}

func TestOrchestrator_NoIntentsReturnsToListening(t *testing.T) {
	t.Parallel()

	h := start(t, session.Config{Recognizer: &nlumock.Recognizer{}})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "hmm"})
	h.awaitSequence(t, session.Processing, session.Listening)

	if len(h.exec.kinds()) != 0 {
		t.Error("nothing should be executed")
	}
}

func TestOrchestrator_CancelledRecognitionReturnsToListening(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Err: fmt.Errorf("llm: request: %w", context.Canceled)}
	h := start(t, session.Config{Recognizer: rec, ErrorReset: time.Minute})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "scroll down"})
	h.awaitSequence(t, session.Processing, session.Listening)

	if len(h.exec.kinds()) != 0 {
		t.Error("nothing should be executed")
	}
	if !h.cap.Running() {
		t.Error("capture should keep running after a cancelled cycle")
	}
}

func TestOrchestrator_StopPhrase(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Default: []types.Intent{intent(types.IntentClick)}}
	wake := &fakeWake{}
	h := start(t, session.Config{Recognizer: rec, Stop: stopWords{"stop listening"}, Wake: wake})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "Stop listening"})
	h.await(t, session.Idle)

	if rec.CallCount() != 0 {
		t.Error("stop phrase must not reach the recognizer")
	}
	if h.cap.Running() {
		t.Error("capture should be stopped")
	}
	if h.orch.Active() {
		t.Error("session should be inactive")
	}
	if starts, _ := wake.counts(); starts != 2 {
		t.Errorf("wake listener starts = %d, want 2 (initial and after stop)", starts)
	}
}

func TestOrchestrator_WakeStartsSession(t *testing.T) {
	t.Parallel()

	wake := &fakeWake{}
	h := start(t, session.Config{Wake: wake})

	deadline := time.Now().Add(2 * time.Second)
	for !wake.fire() {
		if time.Now().After(deadline) {
			t.Fatal("wake listener never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.awaitSequence(t, session.Waiting, session.Listening)
	if _, stops := wake.counts(); stops != 1 {
		t.Errorf("wake stops = %d, want 1 while the session runs", stops)
	}

	h.orch.Stop()
	h.await(t, session.Idle)
	if h.cap.stopCount() != 1 {
		t.Errorf("capture stops = %d, want 1", h.cap.stopCount())
	}
}

func TestOrchestrator_StartFailureShowsErrorThenResets(t *testing.T) {
	t.Parallel()

	capt := &fakeCapturer{startErr: errors.Join(errors.New("capture: acquire microphone"), miclock.ErrMicrophoneBusy)}
	h := start(t, session.Config{Capturer: capt})

	h.orch.Start()
	h.await(t, session.Waiting)
	st := h.await(t, session.Error)
	if st.Message != "Microphone busy in another instance." {
		t.Errorf("message = %q", st.Message)
	}

	// Starts are ignored while the error is shown.
	h.orch.Start()
	h.await(t, session.Idle)
	if h.orch.Active() {
		t.Error("session should be inactive after an error")
	}
}

func TestOrchestrator_ServiceUnavailable(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Err: nlu.ErrServiceUnavailable}
	h := start(t, session.Config{Recognizer: rec, ErrorReset: time.Minute})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "scroll down"})
	st := h.await(t, session.Error)
	if st.Message != "Service unavailable, try again later." {
		t.Errorf("message = %q", st.Message)
	}
	if h.cap.Running() {
		t.Error("capture should be stopped on error")
	}

	// A manual stop clears the error immediately.
	h.orch.Stop()
	h.await(t, session.Idle)
}

func TestOrchestrator_ExecutorErrorFails(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{Default: []types.Intent{intent(types.IntentClick), intent(types.IntentScroll)}}
	exec := &fakeExecutor{err: errors.New("page detached")}
	h := start(t, session.Config{Recognizer: rec, Executor: exec})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "click it"})
	st := h.await(t, session.Error)
	if st.Message != "Something went wrong, try again." {
		t.Errorf("message = %q", st.Message)
	}
	if got := exec.kinds(); len(got) != 1 {
		t.Errorf("executed = %v, want execution to stop at the failing intent", got)
	}
}

func TestOrchestrator_CaptureFailure(t *testing.T) {
	t.Parallel()

	h := start(t, session.Config{})
	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.Failed, Err: capture.ErrLeaseLost})
	h.await(t, session.Error)
	h.await(t, session.Idle)
}

// blockingRecognizer blocks every call until released.
func blockingRecognizer(release <-chan struct{}, calls *int, mu *sync.Mutex) nlu.Recognizer {
	return nlu.RecognizerFunc(func(ctx context.Context, text string) ([]types.Intent, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		select {
		case <-release:
			return []types.Intent{intent(types.IntentScroll)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestOrchestrator_StopDropsInFlightResult(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	h := start(t, session.Config{Recognizer: blockingRecognizer(release, &calls, &mu)})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "scroll down"})
	h.await(t, session.Processing)

	h.orch.Stop()
	h.await(t, session.Idle)
	close(release)

	time.Sleep(50 * time.Millisecond)
	if got := h.exec.kinds(); len(got) != 0 {
		t.Errorf("executed = %v after stop, want nothing", got)
	}
	if st := h.orch.Status().State; st != session.Idle {
		t.Errorf("state = %s, want IDLE", st)
	}
}

func TestOrchestrator_OneUtteranceInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	h := start(t, session.Config{Recognizer: blockingRecognizer(release, &calls, &mu)})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "scroll down"})
	h.await(t, session.Processing)
	h.cap.emit(capture.Event{Kind: capture.RecordingStarted})
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "scroll up"})

	close(release)
	h.await(t, session.Executing)
	h.await(t, session.Listening)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("recognizer calls = %d, want 1", calls)
	}
	if got := h.exec.kinds(); len(got) != 1 {
		t.Errorf("executed = %v, want one intent", got)
	}
}

func TestOrchestrator_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	rec := &nlumock.Recognizer{Default: []types.Intent{intent(types.IntentScroll)}}
	h := start(t, session.Config{Recognizer: rec, Metrics: m})
	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "scroll down"})
	h.await(t, session.Executing)
	h.await(t, session.Listening)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
		}
	}
	for _, name := range []string{"voxact.intents", "voxact.utterances", "voxact.session.transitions", "voxact.active_sessions"} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

type replaceCorrector struct{ from, to string }

func (r replaceCorrector) Correct(_ context.Context, text string) string {
	return strings.ReplaceAll(text, r.from, r.to)
}

func TestOrchestrator_CorrectorRunsBeforeRecognition(t *testing.T) {
	t.Parallel()

	rec := &nlumock.Recognizer{}
	h := start(t, session.Config{
		Recognizer: rec,
		Corrector:  replaceCorrector{from: "sip coat", to: "Zip code"},
		Stop:       stopWords{"stop listening"},
	})

	h.orch.Start()
	h.await(t, session.Listening)
	h.cap.emit(capture.Event{Kind: capture.UtteranceReady, Text: "fill sip coat with 12345"})
	h.awaitSequence(t, session.Processing, session.Listening)

	if rec.CallCount() != 1 || rec.Texts[0] != "fill Zip code with 12345" {
		t.Errorf("recognizer texts = %v", rec.Texts)
	}
}
