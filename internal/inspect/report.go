package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/forkpool/internal/transport"
)

// Latest selects the most recently started run.
const Latest = "latest"

// Report is the structured JSON representation of one journaled run.
type Report struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	Workers    int            `json:"workers"`
	Parallel   bool           `json:"parallel"`
	ConfigHash string         `json:"config_hash,omitempty"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Counts     map[string]int `json:"counts"`
	Problems   []Problem      `json:"problems"`
}

// Problem is one failed or errored result.
type Problem struct {
	Test     string   `json:"test"`
	Status   string   `json:"status"`
	Messages []string `json:"messages"`
}

// RunInfo is one row of ListRuns.
type RunInfo struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
	Results   int    `json:"results"`
}

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, db *sql.DB, runID string) (string, error) {
	report, err := gatherReportData(ctx, db, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Workers     : %d (parallel: %t)\n", report.Workers, report.Parallel)
	fmt.Fprintf(&out, "Config hash : %s\n", renderUnset(report.ConfigHash, "<none>"))
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt)
	fmt.Fprintf(&out, "Finished    : %s\n", renderUnset(report.FinishedAt, "<still running>"))
	fmt.Fprintf(&out, "Results     : %d pass, %d fail, %d error, %d skip\n",
		report.Counts["pass"], report.Counts["fail"], report.Counts["error"], report.Counts["skip"])

	if len(report.Problems) > 0 {
		fmt.Fprintf(&out, "\n")
	}
	for i, p := range report.Problems {
		fmt.Fprintf(&out, "[%d] %s (%s)\n", i+1, p.Test, p.Status)
		for _, msg := range p.Messages {
			for _, line := range strings.Split(strings.TrimSpace(msg), "\n") {
				fmt.Fprintf(&out, "    %s\n", line)
			}
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report for a run.
func BuildJSONReport(ctx context.Context, db *sql.DB, runID string) (string, error) {
	report, err := gatherReportData(ctx, db, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
SELECT r.id, r.status, r.started_at, COUNT(t.id)
FROM test_runs r
LEFT JOIN test_results t ON t.run_id = r.id
GROUP BY r.id
ORDER BY r.started_at DESC, r.rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.ID, &r.Status, &r.StartedAt, &r.Results); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func gatherReportData(ctx context.Context, db *sql.DB, runID string) (*Report, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if runID == Latest {
		latest, err := latestRunID(ctx, db)
		if err != nil {
			return nil, err
		}
		runID = latest
	}

	report, err := lookupRun(ctx, db, runID)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
SELECT class, method, status, failures
FROM test_results
WHERE run_id = ?
ORDER BY id ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results for run %q: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var class, method, status string
		var failures sql.NullString
		if err := rows.Scan(&class, &method, &status, &failures); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		report.Counts[status]++
		if status != "fail" && status != "error" {
			continue
		}
		report.Problems = append(report.Problems, Problem{
			Test:     class + "#" + method,
			Status:   status,
			Messages: failureMessages(failures.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

func latestRunID(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM test_runs ORDER BY started_at DESC, rowid DESC LIMIT 1;`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("journal has no runs")
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return id, nil
}

func lookupRun(ctx context.Context, db *sql.DB, runID string) (*Report, error) {
	var (
		r                    Report
		parallel             int
		configHash, finished sql.NullString
	)
	row := db.QueryRowContext(ctx, `
SELECT id, status, workers, parallel, config_hash, started_at, finished_at
FROM test_runs
WHERE id = ?;
`, runID)
	if err := row.Scan(&r.RunID, &r.Status, &r.Workers, &parallel, &configHash, &r.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %q not found", runID)
		}
		return nil, fmt.Errorf("query run %q: %w", runID, err)
	}
	r.Parallel = parallel != 0
	r.ConfigHash = configHash.String
	r.FinishedAt = finished.String
	r.Counts = make(map[string]int)
	r.Problems = make([]Problem, 0)
	return &r, nil
}

// failureMessages reads the stored failure list. Errors are kept as their
// wire envelopes, so only the messages are needed here and no error kind has
// to be registered in the inspecting process.
func failureMessages(raw string) []string {
	if raw == "" {
		return nil
	}
	var failures []struct {
		Kind  string                   `json:"kind"`
		Error *transport.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &failures); err != nil {
		return []string{raw}
	}
	msgs := make([]string, 0, len(failures))
	for _, f := range failures {
		switch {
		case f.Kind == "skip":
			continue
		case f.Error != nil:
			msgs = append(msgs, f.Error.Message)
		default:
			msgs = append(msgs, f.Kind)
		}
	}
	return msgs
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
