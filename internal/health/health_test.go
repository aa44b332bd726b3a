package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var rep report
	if rec.Code != http.StatusNotFound {
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		if path != "/status" {
			if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
				t.Fatalf("decode %s: %v", path, err)
			}
		}
	}
	return rec, rep
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()

	failing := Checker{Name: "browser", Check: func(context.Context) error { return errors.New("down") }}
	rec, rep := serve(t, New(failing), "/healthz")
	if rec.Code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok even with failing checks", rec.Code, rep.Status)
	}
	if len(rep.Checks) != 0 {
		t.Errorf("healthz ran checks: %v", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantFailed []string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "browser", Check: ok},
				{Name: "journal", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "browser", Check: ok},
				{Name: "journal", Check: func(context.Context) error { return errors.New("last journal operation failed") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantFailed: []string{"journal"},
		},
		{
			name: "check honours its deadline",
			checkers: []Checker{
				{Name: "browser", Check: func(ctx context.Context) error {
					if _, ok := ctx.Deadline(); !ok {
						return errors.New("no deadline")
					}
					return nil
				}},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec, rep := serve(t, New(tt.checkers...), "/readyz")
			if rec.Code != tt.wantCode || rep.Status != tt.wantStatus {
				t.Fatalf("readyz = %d %q, want %d %q", rec.Code, rep.Status, tt.wantCode, tt.wantStatus)
			}
			if len(rep.Checks) != len(tt.checkers) {
				t.Errorf("checks = %v, want %d entries", rep.Checks, len(tt.checkers))
			}
			for _, name := range tt.wantFailed {
				if res := rep.Checks[name]; res.OK || res.Error == "" {
					t.Errorf("check %s = %+v, want failure with message", name, res)
				}
			}
		})
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	slow := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	if rec, _ := serve(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrent checks = %d, want > 1", peak.Load())
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	rec, _ := serve(t, New(), "/status")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status without source = %d, want 404", rec.Code)
	}

	h := New().WithStatus(func(context.Context) any {
		return map[string]string{"state": "LISTENING"}
	})
	rec, _ = serve(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["state"] != "LISTENING" {
		t.Errorf("state = %q", got["state"])
	}
}
