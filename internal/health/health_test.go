package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/voxmem/internal/resilience"
	"github.com/MrWong99/voxmem/pkg/memory"
	memmock "github.com/MrWong99/voxmem/pkg/memory/mock"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "memory", Check: ok}, {Name: "llm", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"memory": "ok", "llm": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "memory", Check: func(context.Context) error { return errors.New("disk gone") }},
				{Name: "llm", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"memory": "fail: disk gone", "llm": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tc.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%q] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_CheckHasDeadline(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		if time.Until(deadline) > checkTimeout {
			return errors.New("deadline too far")
		}
		return nil
	}})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New().Register(r)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestStoreChecker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if err := StoreChecker(&memmock.Store{}).Check(ctx); err != nil {
		t.Errorf("healthy store: %v", err)
	}
	if err := StoreChecker(&memmock.Store{NeedsReload: true}).Check(ctx); !errors.Is(err, memory.ErrNeedsReload) {
		t.Errorf("needs reload: got %v", err)
	}
	statsErr := errors.New("stats failed")
	if err := StoreChecker(&memmock.Store{StatsErr: statsErr}).Check(ctx); !errors.Is(err, statsErr) {
		t.Errorf("stats error: got %v", err)
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	snaps := func(states ...resilience.State) func() []resilience.Snapshot {
		return func() []resilience.Snapshot {
			out := make([]resilience.Snapshot, len(states))
			for i, s := range states {
				out[i] = resilience.Snapshot{State: s}
			}
			return out
		}
	}
	ctx := context.Background()

	if err := BreakerChecker("llm", snaps()).Check(ctx); err != nil {
		t.Errorf("no breakers: %v", err)
	}
	if err := BreakerChecker("llm", snaps(resilience.StateOpen, resilience.StateHalfOpen)).Check(ctx); err != nil {
		t.Errorf("one probing: %v", err)
	}
	err := BreakerChecker("llm", snaps(resilience.StateOpen, resilience.StateOpen)).Check(ctx)
	if err == nil || !strings.Contains(err.Error(), "all 2 backends") {
		t.Errorf("all open: got %v", err)
	}
}
