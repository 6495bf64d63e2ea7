package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/forkpool/internal/report"
	"github.com/mattjoyce/forkpool/internal/storage"
	"github.com/mattjoyce/forkpool/internal/suite"
)

// opaqueErr is not registered with the transport; inspect must still show it.
type opaqueErr struct{ Code int }

func (e *opaqueErr) Error() string { return "opaque failure" }

func seedRun(t *testing.T, db *sql.DB) string {
	t.Helper()
	ctx := context.Background()

	j, err := report.BeginRun(ctx, db, report.RunInfo{Workers: 2, Parallel: true, ConfigHash: "deadbeef"}, nil)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	for _, r := range []*suite.Result{
		{Class: "A", Method: "test_ok", Assertions: 1},
		{Class: "A", Method: "test_bad", Failures: []suite.Failure{{Kind: suite.KindAssertion, Err: errors.New("want 1\ngot 2")}}},
		{Class: "B", Method: "test_boom", Failures: []suite.Failure{{Kind: suite.KindError, Err: &opaqueErr{Code: 9}}}},
		{Class: "B", Method: "test_skip", Failures: []suite.Failure{{Kind: suite.KindSkip, Err: errors.New("later")}}},
	} {
		j.Record(r)
	}
	if err := j.Finish(ctx, report.RunFailed); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return j.RunID()
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBuildReportRendersProblems(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	runID := seedRun(t, db)

	out, err := BuildReport(context.Background(), db, runID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Run ID      : " + runID,
		"Status      : failed",
		"Workers     : 2 (parallel: true)",
		"Config hash : deadbeef",
		"Results     : 1 pass, 1 fail, 1 error, 1 skip",
		"[1] A#test_bad (fail)",
		"    want 1",
		"    got 2",
		"[2] B#test_boom (error)",
		"    opaque failure",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "later") {
		t.Fatalf("skips should not be listed:\n%s", out)
	}
}

func TestBuildJSONReportLatest(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	seedRun(t, db)
	second := seedRun(t, db)

	out, err := BuildJSONReport(context.Background(), db, Latest)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var rep Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rep.RunID != second {
		t.Fatalf("expected latest run %q, got %q", second, rep.RunID)
	}
	if rep.Counts["pass"] != 1 || len(rep.Problems) != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	first := seedRun(t, db)
	second := seedRun(t, db)

	runs, err := ListRuns(context.Background(), db, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if runs[0].Results != 4 {
		t.Fatalf("expected 4 results, got %d", runs[0].Results)
	}
}

func TestBuildReportErrors(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	if _, err := BuildReport(ctx, db, ""); err == nil {
		t.Fatal("expected error for empty run id")
	}
	if _, err := BuildReport(ctx, db, Latest); err == nil || !strings.Contains(err.Error(), "no runs") {
		t.Fatalf("expected empty journal error, got %v", err)
	}
	if _, err := BuildReport(ctx, db, "nope"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
