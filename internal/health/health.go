// Package health serves the probe and status endpoints of a Voxact instance.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz runs
// every registered [Checker] and answers 503 if any of them fails. GET /status
// returns whatever the configured [StatusFunc] reports, typically the voice
// session, microphone lease and provider breakers.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 3 * time.Second

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StatusFunc returns a JSON-encodable snapshot for /status.
type StatusFunc func(ctx context.Context) any

// report is the body of /healthz and /readyz.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	ElapsedMs float64 `json:"elapsed_ms"`
}

// Handler serves the endpoints. Checkers are fixed at construction.
type Handler struct {
	checkers []Checker
	status   StatusFunc
}

// New returns a Handler that runs checkers concurrently on every /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// WithStatus sets the /status source and returns h.
func (h *Handler) WithStatus(fn StatusFunc) *Handler {
	h.status = fn
	return h
}

// Register mounts the three routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.check(r.Context())
	code := http.StatusOK
	if rep.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Status answers 404 when no [StatusFunc] is set.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

func (h *Handler) check(ctx context.Context) report {
	var (
		mu  sync.Mutex
		g   errgroup.Group
		rep = report{Status: "ok", Checks: make(map[string]checkResult, len(h.checkers))}
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := checkResult{OK: err == nil, ElapsedMs: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			rep.Checks[c.Name] = res
			if err != nil {
				rep.Status = "fail"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("health: encode response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
