package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/forkpool/internal/config"
	"github.com/mattjoyce/forkpool/internal/inspect"
	"github.com/mattjoyce/forkpool/internal/storage"
)

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	list := fs.Bool("list", false, "List recent runs instead of showing one")
	limit := fs.Int("limit", 20, "Number of runs to list")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: forkpool inspect [--config PATH] [--json] [--list] [run_id|latest]")
		return 1
	}
	runID := inspect.Latest
	if fs.NArg() == 1 {
		runID = fs.Arg(0)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Journal not found at %s (enable journal in config and run first)\n", cfg.Journal.Path)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()

	if *list {
		runs, err := inspect.ListRuns(ctx, db, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
			return 1
		}
		if *jsonOut {
			if runs == nil {
				runs = []inspect.RunInfo{}
			}
			data, err := json.MarshalIndent(runs, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to render runs: %v\n", err)
				return 1
			}
			fmt.Println(string(data))
			return 0
		}
		for _, r := range runs {
			fmt.Printf("%s  %-8s  %s  %d results\n", r.ID, r.Status, r.StartedAt, r.Results)
		}
		return 0
	}

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, db, runID)
	} else {
		out, err = inspect.BuildReport(ctx, db, runID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}
