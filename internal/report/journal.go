package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/suite"
)

// Run statuses stored in test_runs.
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
	RunAborted = "aborted"
)

// RunInfo describes a run when it begins.
type RunInfo struct {
	Workers    int
	Parallel   bool
	ConfigHash string
}

// Journal writes every result to the run journal and passes it on to next.
type Journal struct {
	db     *sql.DB
	runID  string
	next   suite.Reporter
	logger *slog.Logger

	lock sync.Mutex // held by Synchronize

	mu     sync.Mutex
	failed int // results that could not be written
}

// BeginRun inserts a new run and returns a journal recording into it.
func BeginRun(ctx context.Context, db *sql.DB, info RunInfo, next suite.Reporter) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal database is nil")
	}
	runID := uuid.NewString()
	_, err := db.ExecContext(ctx, `
INSERT INTO test_runs(id, workers, parallel, config_hash, status, started_at)
VALUES(?, ?, ?, ?, ?, ?);
`, runID, info.Workers, boolToInt(info.Parallel), nullable(info.ConfigHash), RunRunning, now())
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	j := &Journal{db: db, runID: runID, next: next, logger: log.WithRun(runID)}
	j.logger.Debug("run started", "workers", info.Workers, "parallel", info.Parallel)
	return j, nil
}

// RunID identifies the run in the journal.
func (j *Journal) RunID() string { return j.runID }

func (j *Journal) Record(result *suite.Result) {
	if err := j.insert(result); err != nil {
		j.mu.Lock()
		j.failed++
		j.mu.Unlock()
		j.logger.Error("failed to journal result", "test", result.Name(), "error", err)
	}
	if j.next != nil {
		j.next.Record(result)
	}
}

func (j *Journal) Synchronize(fn func()) {
	j.lock.Lock()
	defer j.lock.Unlock()
	fn()
}

func (j *Journal) insert(result *suite.Result) error {
	var failures any
	if len(result.Failures) > 0 {
		raw, err := json.Marshal(result.Failures)
		if err != nil {
			return fmt.Errorf("encode failures: %w", err)
		}
		failures = string(raw)
	}
	_, err := j.db.Exec(`
INSERT INTO test_results(run_id, class, method, status, assertions, duration_ms, failures, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, j.runID, result.Class, result.Method, string(result.Status()), result.Assertions, result.Duration.Milliseconds(), failures, now())
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Unwritten is the number of results that could not be journaled.
func (j *Journal) Unwritten() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failed
}

// Finish closes the run with status.
func (j *Journal) Finish(ctx context.Context, status string) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE test_runs SET status = ?, finished_at = ? WHERE id = ?;
`, status, now(), j.runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %q not found", j.runID)
	}
	j.logger.Debug("run finished", "status", status)
	return nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func now() string { return time.Now().UTC().Format(timeLayout) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
