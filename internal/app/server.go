package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxact/internal/dom"
	"github.com/MrWong99/voxact/internal/health"
	"github.com/MrWong99/voxact/internal/journal"
	"github.com/MrWong99/voxact/internal/observe"
	"github.com/MrWong99/voxact/internal/session"
)

const (
	readHeaderTimeout = 5 * time.Second
	serverStopTimeout = 5 * time.Second
	defaultJournalTop = 20
)

// Status is the JSON document served at /status.
type Status struct {
	Session    session.Status               `json:"session"`
	Microphone MicrophoneStatus             `json:"microphone"`
	Breakers   map[string]map[string]string `json:"breakers,omitempty"`
	Zoom       float64                      `json:"zoom"`
	History    int                          `json:"history"`
	Journal    string                       `json:"journal"`

	// CapturePaused is set while streaming capture is suspended because the
	// page is hidden.
	CapturePaused bool `json:"capture_paused,omitempty"`
}

// MicrophoneStatus describes this instance's view of the microphone lease.
type MicrophoneStatus struct {
	ID    string `json:"id"`
	Owner bool   `json:"owner"`

	// Holder is the current lease owner, empty when the microphone is free.
	Holder string `json:"holder,omitempty"`
}

// Snapshot collects the current status of all subsystems.
func (a *App) Snapshot(context.Context) Status {
	st := Status{
		Session: a.orchestrator.Status(),
		Zoom:    a.actuator.Zoom(),
		History: len(a.actuator.History()),
		Journal: "ok",
	}
	if a.arbiter != nil {
		st.Microphone = MicrophoneStatus{ID: a.arbiter.ID(), Owner: a.arbiter.Owner()}
		if l, ok := a.arbiter.Current(); ok {
			st.Microphone.Holder = l.OwnerID
		}
	}
	if a.guard.Degraded() {
		st.Journal = "degraded"
	}
	if a.streaming != nil {
		st.CapturePaused = a.streaming.Paused()
	}

	breakers := map[string]map[string]string{}
	if a.llm != nil {
		breakers["llm"] = stateNames(a.llm.States())
	}
	if a.transcriber != nil {
		breakers["transcriber"] = stateNames(a.transcriber.States())
	}
	if a.stt != nil {
		breakers["stt"] = stateNames(a.stt.States())
	}
	if len(breakers) > 0 {
		st.Breakers = breakers
	}
	return st
}

func stateNames[S fmt.Stringer](m map[string]S) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

// Handler returns the operational HTTP API:
//
//   - GET /healthz, /readyz, /status (see package health)
//   - GET /metrics: Prometheus scrape endpoint
//   - POST /session/start, /session/stop: manual session control
//   - GET /journal?session=ID&limit=N: recently executed intents
func (a *App) Handler() http.Handler {
	h := health.New(
		health.Checker{Name: "browser", Check: func(ctx context.Context) error {
			_, err := a.host.Document(ctx)
			return err
		}},
		health.Checker{Name: "journal", Check: func(context.Context) error {
			if a.guard.Degraded() {
				return errors.New("last journal operation failed")
			}
			return nil
		}},
	).WithStatus(func(ctx context.Context) any { return a.Snapshot(ctx) })

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /session/start", func(w http.ResponseWriter, _ *http.Request) {
		a.orchestrator.Start()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /session/stop", func(w http.ResponseWriter, _ *http.Request) {
		a.orchestrator.Stop()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /journal", a.handleJournal)

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalTop
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := a.guard.Recent(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(journalView(entries)); err != nil {
		slog.Warn("encode journal response", "err", err)
	}
}

// serve runs the orchestrator and, if configured, the HTTP server until ctx
// is done.
func (a *App) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.orchestrator.Run(gctx)
	})

	if vr, ok := a.host.(dom.VisibilityReporter); ok && a.streaming != nil {
		g.Go(func() error {
			a.watchVisibility(gctx, vr)
			return nil
		})
	}

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	return g.Wait()
}

// entryView is the JSON form of a journal entry.
type entryView struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Utterance string    `json:"utterance,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
	Duration  float64   `json:"duration_ms"`
}

func journalView(entries []journal.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			SessionID: e.SessionID,
			Kind:      string(e.Intent.Kind),
			Utterance: e.Utterance,
			Success:   e.Success,
			Error:     e.Error,
			At:        e.At,
			Duration:  float64(e.Duration) / float64(time.Millisecond),
		})
	}
	return out
}
