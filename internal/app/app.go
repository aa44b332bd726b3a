// Package app wires all Voxact subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the session loop and the operational HTTP server,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHost, WithJournal,
// WithBus, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxact/internal/actuate"
	"github.com/MrWong99/voxact/internal/capture"
	"github.com/MrWong99/voxact/internal/config"
	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/host/rodhost"
	"github.com/MrWong99/voxact/internal/journal"
	"github.com/MrWong99/voxact/internal/miclock"
	"github.com/MrWong99/voxact/internal/observe"
	"github.com/MrWong99/voxact/internal/resilience"
	"github.com/MrWong99/voxact/internal/session"
	"github.com/MrWong99/voxact/internal/transcript"
	"github.com/MrWong99/voxact/internal/transcript/llmcorrect"
	"github.com/MrWong99/voxact/internal/wakeword"
	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/llm"
	"github.com/MrWong99/voxact/pkg/provider/nlu"
	"github.com/MrWong99/voxact/pkg/provider/nlu/llmrecognizer"
	"github.com/MrWong99/voxact/pkg/provider/stt"
	"github.com/MrWong99/voxact/pkg/provider/vad"
)

const (
	defaultSampleRate = 16000
	defaultMemorySize = 1000

	// labelTimeout bounds the document snapshot taken to collect voice
	// labels for transcript correction and keyword boosting.
	labelTimeout = 2 * time.Second

	// defaultVisibilityInterval is how often the page visibility is polled
	// in streaming mode.
	defaultVisibilityInterval = time.Second
)

// Named pairs a provider with the name it was configured under.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM          llm.Provider
	LLMFallbacks []Named[llm.Provider]

	Transcriber          stt.Transcriber
	TranscriberFallbacks []Named[stt.Transcriber]

	STT          stt.Provider
	STTFallbacks []Named[stt.Provider]

	VAD   vad.Engine
	Audio audio.Source
}

// thresholdSetter is implemented by VAD engines whose speech threshold can
// change while sessions are open.
type thresholdSetter interface {
	SetThreshold(float64)
}

// App owns all subsystem lifetimes and orchestrates the Voxact voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	level     *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics      *observe.Metrics
	host         dom.Host
	llm          *resilience.LLMFallback
	recognizer   nlu.Recognizer
	transcriber  *resilience.TranscriberFallback
	stt          *resilience.STTFallback
	actuator     *actuate.Actuator
	journal      journal.Journal
	guard        *journal.Guard
	bus          miclock.Bus
	arbiter      *miclock.Arbiter
	capturer     capture.Capturer
	vadCapture   *capture.VAD
	streaming    *capture.Streaming
	detector     *wakeword.Detector
	listener     *wakeword.Listener
	corrector    *transcript.Corrector
	orchestrator *session.Orchestrator

	visibilityInterval time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHost injects the page host instead of launching a browser.
func WithHost(h dom.Host) Option {
	return func(a *App) { a.host = h }
}

// WithJournal injects a command journal instead of creating one from config.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithBus injects the microphone arbitration bus.
func WithBus(b miclock.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithMetrics injects the metrics instruments instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRecognizer injects an intent recognizer instead of building one on the
// configured LLM.
func WithRecognizer(r nlu.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithVisibilityInterval sets how often the page visibility is polled to
// pause streaming capture while the page is hidden.
func WithVisibilityInterval(d time.Duration) Option {
	return func(a *App) { a.visibilityInterval = d }
}

// WithLogLevel hands New the level variable of the process logger so that
// hot reloads can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: browser launch, journal
// connection, microphone arbitration and orchestrator assembly. On error,
// everything created so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Page host ─────────────────────────────────────────────────────
	if err := a.initHost(ctx); err != nil {
		return nil, fmt.Errorf("app: init host: %w", err)
	}

	// ── 3. Recognizer ────────────────────────────────────────────────────
	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 4. Actuator ──────────────────────────────────────────────────────
	a.initActuator()

	// ── 5. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 6. Microphone arbiter ────────────────────────────────────────────
	if err := a.initArbiter(ctx); err != nil {
		return nil, fmt.Errorf("app: init microphone arbiter: %w", err)
	}

	// ── 7. Capturer ──────────────────────────────────────────────────────
	if err := a.initCapture(); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 8. Wake word ─────────────────────────────────────────────────────
	a.initWakeWord()

	// ── 9. Transcript correction ─────────────────────────────────────────
	a.initCorrector()

	// ── 10. Session orchestrator ─────────────────────────────────────────
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHost launches or attaches to the browser unless a host was injected.
func (a *App) initHost(ctx context.Context) error {
	if a.host != nil {
		return nil
	}
	bc := a.cfg.Browser
	var hostOpts []rodhost.Option
	if bc.Timeout > 0 {
		hostOpts = append(hostOpts, rodhost.WithTimeout(bc.Timeout))
	}
	b, err := rodhost.Launch(ctx, rodhost.LaunchOptions{
		ControlURL: bc.ControlURL,
		Headless:   bc.Headless,
		URL:        bc.URL,
		Width:      bc.Width,
		Height:     bc.Height,
	}, markup(a.cfg.Markup), hostOpts...)
	if err != nil {
		return err
	}
	a.host = b
	a.closers = append(a.closers, b.Close)
	slog.Info("browser ready", "url", bc.URL, "attached", bc.ControlURL != "")
	return nil
}

// initRecognizer wraps the LLM providers in a fallback group and builds the
// intent recognizer on top of it.
func (a *App) initRecognizer() error {
	if a.providers.LLM != nil {
		a.llm = resilience.NewLLMFallback(a.providers.LLM, a.cfg.Providers.LLM.Name, a.fallbackConfig("llm"))
		for _, fb := range a.providers.LLMFallbacks {
			a.llm.AddFallback(fb.Name, fb.Provider)
		}
	}
	if a.recognizer != nil {
		return nil
	}
	if a.llm == nil {
		return errors.New("an LLM provider is required for intent recognition")
	}
	var recOpts []llmrecognizer.Option
	if lang := a.cfg.Voice.Language; lang != "" {
		recOpts = append(recOpts, llmrecognizer.WithLanguage(lang))
	}
	rec, err := llmrecognizer.New(a.llm, recOpts...)
	if err != nil {
		return err
	}
	a.recognizer = rec
	return nil
}

// initActuator creates the page actuator and logs its events.
func (a *App) initActuator() {
	ac := a.cfg.Actuator
	var actOpts []actuate.Option
	if ac.ScrollStep > 0 {
		actOpts = append(actOpts, actuate.WithScrollStep(ac.ScrollStep))
	}
	if ac.ZoomStep > 0 {
		actOpts = append(actOpts, actuate.WithZoomStep(ac.ZoomStep))
	}
	if ac.DropdownRevert > 0 {
		actOpts = append(actOpts, actuate.WithDropdownRevert(ac.DropdownRevert))
	}
	if ac.HistoryLimit > 0 {
		actOpts = append(actOpts, actuate.WithHistoryLimit(ac.HistoryLimit))
	}
	a.actuator = actuate.New(a.host, actOpts...)
	cancel := a.actuator.Subscribe(func(e actuate.Event) {
		slog.Debug("actuator event", "kind", e.Kind, "intent", e.Intent.Kind)
	})
	// Ahead of the browser so no revert reaches a closed page.
	a.closers = append([]func() error{func() error {
		cancel()
		return a.actuator.Close()
	}}, a.closers...)
}

// initJournal connects to PostgreSQL when configured and otherwise keeps a
// bounded in-memory journal. The result is always wrapped in a Guard.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			pg, err := journal.OpenPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			a.journal = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
		} else {
			size := a.cfg.Journal.MemorySize
			if size == 0 {
				size = defaultMemorySize
			}
			a.journal = journal.NewMemory(size)
		}
	}
	a.guard = journal.NewGuard(a.journal)
	return nil
}

// initArbiter joins the microphone arbitration bus.
func (a *App) initArbiter(ctx context.Context) error {
	mc := a.cfg.Microphone
	if a.bus == nil {
		switch mc.Bus {
		case config.MicBusRedis:
			client, err := miclock.DialRedis(ctx, mc.Redis.Addr, mc.Redis.Password, mc.Redis.DB)
			if err != nil {
				return err
			}
			a.bus = miclock.NewRedisBus(client, mc.Redis.Channel)
			a.closers = append(a.closers, client.Close)
		default:
			a.bus = miclock.NewMemoryBus()
		}
	}

	var lockOpts []miclock.Option
	if mc.ProbeTimeout > 0 {
		lockOpts = append(lockOpts, miclock.WithProbeTimeout(mc.ProbeTimeout))
	}
	if mc.HeartbeatInterval > 0 {
		lockOpts = append(lockOpts, miclock.WithHeartbeatInterval(mc.HeartbeatInterval))
	}
	if mc.StaleAfter > 0 {
		lockOpts = append(lockOpts, miclock.WithStaleAfter(mc.StaleAfter))
	}
	arb, err := miclock.Open(ctx, a.bus, lockOpts...)
	if err != nil {
		return err
	}
	a.arbiter = arb
	// The arbiter must release before its bus goes away.
	a.closers = append([]func() error{arb.Close}, a.closers...)
	slog.Info("microphone arbiter joined", "id", arb.ID(), "bus", busName(mc.Bus))
	return nil
}

// initCapture builds the VAD or streaming capturer with the arbiter as its
// microphone lock.
func (a *App) initCapture() error {
	if a.providers.Audio == nil {
		return errors.New("an audio source is required")
	}
	cc := a.cfg.Capture
	rate := cc.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}

	if a.providers.STT != nil {
		a.stt = resilience.NewSTTFallback(a.providers.STT, a.cfg.Providers.STT.Name, a.fallbackConfig("stt"))
		for _, fb := range a.providers.STTFallbacks {
			a.stt.AddFallback(fb.Name, fb.Provider)
		}
	}

	if cc.Mode == config.CaptureStreaming {
		if a.stt == nil {
			return errors.New("streaming capture requires an stt provider")
		}
		a.streaming = capture.NewStreaming(a.providers.Audio, a.stt,
			capture.WithStreamLock(a.arbiter),
			capture.WithStreamConfig(a.streamConfig()),
		)
		a.capturer = a.streaming
		return nil
	}

	if a.providers.VAD == nil {
		return errors.New("vad capture requires a vad engine")
	}
	if a.providers.Transcriber == nil {
		return errors.New("vad capture requires a transcriber")
	}
	a.transcriber = resilience.NewTranscriberFallback(a.providers.Transcriber, a.cfg.Providers.Transcriber.Name, a.fallbackConfig("transcriber"))
	for _, fb := range a.providers.TranscriberFallbacks {
		a.transcriber.AddFallback(fb.Name, fb.Provider)
	}

	vcfg := vad.Config{SampleRate: rate, FrameSizeMs: 20, SpeechThreshold: cc.SpeechThreshold}
	if ts, ok := a.providers.VAD.(thresholdSetter); ok && cc.SpeechThreshold > 0 {
		// Sessions read the engine's threshold so reloads reach them.
		ts.SetThreshold(cc.SpeechThreshold)
		vcfg.SpeechThreshold = 0
	}
	capOpts := []capture.VADOption{
		capture.WithVADConfig(vcfg),
		capture.WithLock(a.arbiter),
	}
	if cc.PreRoll > 0 {
		capOpts = append(capOpts, capture.WithPreRoll(cc.PreRoll))
	}
	if cc.SilenceDelay > 0 {
		capOpts = append(capOpts, capture.WithSilenceDelay(cc.SilenceDelay))
	}
	a.vadCapture = capture.NewVAD(a.providers.Audio, a.providers.VAD, capOpts...)
	a.capturer = a.vadCapture
	return nil
}

// fallbackConfig returns breaker settings that count transitions of the
// named provider group.
func (a *App) fallbackConfig(group string) resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(backend string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), group, backend, to.String())
		},
	}}
}

// initWakeWord creates the phrase detector and, when enabled, the background
// wake word listener.
func (a *App) initWakeWord() {
	vc := a.cfg.Voice
	a.detector = wakeword.NewDetector(vc.WakePhrases, vc.StopPhrases)
	if !vc.WakeWord || a.stt == nil {
		return
	}
	a.listener = wakeword.NewListener(a.providers.Audio, a.stt, a.detector,
		wakeword.WithStreamConfig(a.streamConfig()),
	)
	slog.Info("wake word listener enabled", "phrases", a.detector.WakePhrases())
}

// initCorrector enables label-aware transcript correction.
func (a *App) initCorrector() {
	cc := a.cfg.Voice.Correction
	if !cc.Enabled {
		return
	}
	var opts []transcript.Option
	if cc.LLM && a.llm != nil {
		opts = append(opts, transcript.WithLLM(llmcorrect.New(a.llm)))
	}
	a.corrector = transcript.New(a.pageLabels, opts...)
}

// initOrchestrator assembles the session state machine.
func (a *App) initOrchestrator() error {
	sc := session.Config{
		Capturer:    a.capturer,
		Recognizer:  a.recognizer,
		Executor:    a.actuator,
		Stop:        a.detector,
		Journal:     a.guard,
		Metrics:     a.metrics,
		ErrorReset:  a.cfg.Session.ErrorReset,
		IntentDelay: a.cfg.Session.IntentDelay,
	}
	if a.transcriber != nil {
		sc.Transcriber = a.transcriber
	}
	if a.listener != nil {
		sc.Wake = a.listener
	}
	if a.corrector != nil {
		sc.Corrector = a.corrector
	}
	orch, err := session.New(sc)
	if err != nil {
		return err
	}
	a.orchestrator = orch

	cancel := orch.Machine().Subscribe(a.onStatus)
	a.closers = append(a.closers, func() error {
		cancel()
		return nil
	})
	return nil
}

// onStatus reacts to session state changes. It runs on the orchestrator
// goroutine and must not block.
func (a *App) onStatus(st session.Status) {
	slog.Info("session status", "state", st.State, "message", st.Message)
	if st.State == session.Waiting && a.streaming != nil {
		go a.refreshKeywords()
	}
}

// refreshKeywords boosts the current page's voice labels in the streaming
// recogniser.
func (a *App) refreshKeywords() {
	labels := a.pageLabels()
	kw := make([]stt.KeywordBoost, 0, len(labels))
	for _, l := range labels {
		kw = append(kw, stt.KeywordBoost{Keyword: l, Boost: 1})
	}
	a.streaming.SetKeywords(kw)
}

// watchVisibility pauses streaming capture while the page is hidden and
// resumes it once the page is shown again. It returns when ctx is done.
func (a *App) watchVisibility(ctx context.Context, vr dom.VisibilityReporter) {
	interval := a.visibilityInterval
	if interval <= 0 {
		interval = defaultVisibilityInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	visible := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now, err := vr.Visible(ctx)
		if err != nil {
			slog.Debug("visibility check failed", "err", err)
			continue
		}
		if now == visible {
			continue
		}
		visible = now
		if visible {
			slog.Info("page visible, resuming capture")
			a.streaming.Resume()
		} else {
			slog.Info("page hidden, pausing capture")
			a.streaming.Pause()
		}
	}
}

// pageLabels returns the voice labels of the current document.
func (a *App) pageLabels() []string {
	ctx, cancel := context.WithTimeout(context.Background(), labelTimeout)
	defer cancel()
	doc, err := a.host.Document(ctx)
	if err != nil {
		slog.Warn("cannot read page labels", "err", err)
		return nil
	}
	nodes := doc.Labeled(nil)
	labels := make([]string, 0, len(nodes))
	for _, n := range nodes {
		labels = append(labels, doc.Label(n))
	}
	return labels
}

func (a *App) streamConfig() stt.StreamConfig {
	rate := a.cfg.Capture.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	return stt.StreamConfig{
		SampleRate: rate,
		Channels:   1,
		Language:   a.cfg.Voice.Language,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *session.Orchestrator { return a.orchestrator }

// Actuator returns the page actuator.
func (a *App) Actuator() *actuate.Actuator { return a.actuator }

// Journal returns the guarded command journal.
func (a *App) Journal() journal.Journal { return a.guard }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the session loop and, when a listen address is configured, the
// operational HTTP server. It blocks until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.serve(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Apply hot-applies the reloadable parts of a config change. Sections that
// need a restart are logged.
func (a *App) Apply(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		if ts, ok := a.providers.VAD.(thresholdSetter); ok {
			ts.SetThreshold(d.NewThreshold)
			slog.Info("speech threshold changed", "threshold", d.NewThreshold)
		}
	}
	if d.SilenceDelayChanged && a.vadCapture != nil {
		a.vadCapture.SetSilenceDelay(d.NewSilenceDelay)
		slog.Info("silence delay changed", "delay", d.NewSilenceDelay)
	}
	if d.PhrasesChanged {
		a.detector.SetPhrases(d.WakePhrases, d.StopPhrases)
		slog.Info("wake and stop phrases changed")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop capture first so the microphone is released.
		if a.capturer != nil && a.capturer.Running() {
			if err := a.capturer.Stop(); err != nil {
				slog.Warn("capture stop error", "err", err)
			}
		}
		if a.listener != nil {
			if err := a.listener.Stop(); err != nil {
				slog.Warn("wake listener stop error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases whatever a failed New managed to create.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error during failed init", "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func markup(mc config.MarkupConfig) dom.Markup {
	return dom.Markup{
		LabelAttr:   mc.LabelAttr,
		SectionAttr: mc.SectionAttr,
		GlobalAttr:  mc.GlobalAttr,
	}
}

func busName(b config.MicBus) config.MicBus {
	if b == "" {
		return config.MicBusMemory
	}
	return b
}
