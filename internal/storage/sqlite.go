package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the run journal at path and ensures
// its tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := ValidateLocalPath(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; results arrive from many RPC goroutines.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the journal tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS test_runs (
  id          TEXT PRIMARY KEY,
  workers     INTEGER NOT NULL,
  parallel    INTEGER NOT NULL,
  config_hash TEXT,
  status      TEXT NOT NULL,
  started_at  TEXT NOT NULL,
  finished_at TEXT
);`,
		`CREATE TABLE IF NOT EXISTS test_results (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id      TEXT NOT NULL REFERENCES test_runs(id),
  class       TEXT NOT NULL,
  method      TEXT NOT NULL,
  status      TEXT NOT NULL,
  assertions  INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  failures    JSON,
  recorded_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS test_results_run_status_idx ON test_results(run_id, status);`,
		`CREATE INDEX IF NOT EXISTS test_runs_started_at_idx ON test_runs(started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
