package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "journal", "runs.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"test_runs", "test_results"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestBootstrapSQLiteIsRepeatable(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := BootstrapSQLite(context.Background(), db); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
