package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/forkpool/internal/pool"
	"github.com/mattjoyce/forkpool/internal/report"
	"github.com/mattjoyce/forkpool/internal/storage"
	"github.com/mattjoyce/forkpool/internal/suite"
)

type stubPool struct{ status pool.Status }

func (p stubPool) Status() pool.Status { return p.status }

func newTestServer(p StatusSource, db *sql.DB) *Server {
	return New(Config{Listen: "localhost:0"}, p, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func TestHandleHealthz(t *testing.T) {
	tests := []struct {
		name       string
		pool       StatusSource
		wantStatus string
	}{
		{name: "no pool", pool: nil, wantStatus: "ok"},
		{name: "all workers up", pool: stubPool{pool.Status{State: "running", Size: 2, Running: 2, Depth: 3}}, wantStatus: "ok"},
		{name: "worker lost", pool: stubPool{pool.Status{State: "running", Size: 2, Running: 1}}, wantStatus: "degraded"},
		{name: "closed", pool: stubPool{pool.Status{State: "closed", Size: 2}}, wantStatus: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, newTestServer(tt.pool, nil), "/healthz")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}

			var resp HealthzResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Fatalf("expected status %q, got %q", tt.wantStatus, resp.Status)
			}
			if (tt.pool == nil) != (resp.Pool == nil) {
				t.Fatalf("unexpected pool section: %+v", resp.Pool)
			}
			if resp.Pool != nil && resp.Pool.Depth != tt.pool.Status().Depth {
				t.Fatalf("expected queue_depth %d, got %d", tt.pool.Status().Depth, resp.Pool.Depth)
			}
		})
	}
}

func TestHandleMetrics(t *testing.T) {
	rr := get(t, newTestServer(nil, nil), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "forkpool_") {
		t.Fatalf("expected forkpool metrics in output")
	}
}

func TestRuns_JournalDisabled(t *testing.T) {
	s := newTestServer(nil, nil)
	for _, path := range []string{"/runs", "/runs/latest"} {
		if rr := get(t, s, path); rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", path, rr.Code)
		}
	}
}

func TestRuns_FromJournal(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	j, err := report.BeginRun(ctx, db, report.RunInfo{Workers: 2, Parallel: true}, nil)
	if err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	j.Record(&suite.Result{Class: "A", Method: "test_ok", Assertions: 1})
	if err := j.Finish(ctx, report.RunPassed); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	s := newTestServer(nil, db)

	rr := get(t, s, "/runs")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), j.RunID()) {
		t.Fatalf("run list missing %s: %s", j.RunID(), rr.Body.String())
	}

	rr = get(t, s, "/runs/latest")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		RunID  string         `json:"run_id"`
		Counts map[string]int `json:"counts"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.RunID != j.RunID() || body.Counts["pass"] != 1 {
		t.Fatalf("unexpected report: %+v", body)
	}

	if rr := get(t, s, "/runs/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown run, got %d", rr.Code)
	}
}
