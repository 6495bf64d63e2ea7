package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/forkpool/internal/api"
	"github.com/mattjoyce/forkpool/internal/config"
	"github.com/mattjoyce/forkpool/internal/hooks"
	"github.com/mattjoyce/forkpool/internal/lock"
	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/pool"
	"github.com/mattjoyce/forkpool/internal/queue"
	"github.com/mattjoyce/forkpool/internal/report"
	"github.com/mattjoyce/forkpool/internal/storage"
	"github.com/mattjoyce/forkpool/internal/suite"
)

type runOptions struct {
	inProcess    bool
	withFailures bool
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	workers := fs.Int("workers", 0, "Number of workers (overrides parallel.workers)")
	threshold := fs.Int("threshold", -1, "Parallelize only above this many methods; 0 always parallelizes")
	plain := fs.Bool("plain", false, "Render the summary without colour")
	inProcess := fs.Bool("in-process", false, "Run workers as goroutines of this process")
	withFailures := fs.Bool("with-failures", false, "Include suites that fail on purpose")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *workers > 0 {
		cfg.Parallel.Workers = *workers
	}
	limit := cfg.Parallel.Threshold
	if cfg.Parallel.Forced {
		limit = 0
	}
	if *threshold >= 0 {
		limit = *threshold
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := selfTestSuites(*withFailures)
	if err != nil {
		logger.Error("failed to register suites", "error", err)
		return 1
	}
	methods := len(reg.Methods())
	parallel := pool.ShouldParallelize(methods, cfg.Parallel.Workers, limit)

	summary := report.NewSummary()
	var reporter suite.Reporter = summary

	var (
		db      *sql.DB
		journal *report.Journal
	)
	if cfg.Journal.Enabled {
		lockPath := lock.PathFor(cfg.Journal.Path)
		pidLock, err := lock.AcquirePIDLock(lockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another run may be using the journal)", "path", lockPath, "error", err)
			return 1
		}
		defer func() { _ = pidLock.Release() }()

		db, err = storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()

		workerCount := 1
		if parallel {
			workerCount = cfg.Parallel.Workers
		}
		journal, err = report.BeginRun(ctx, db, report.RunInfo{
			Workers:    workerCount,
			Parallel:   parallel,
			ConfigHash: cfg.Hash,
		}, summary)
		if err != nil {
			logger.Error("failed to begin run", "error", err)
			return 1
		}
		reporter = journal
	}

	jobs := pool.Jobs(reg, reporter)
	logger.Info("forkpool run starting", "version", version, "methods", methods, "workers", cfg.Parallel.Workers, "parallel", parallel)

	var runErr error
	if parallel {
		runErr = runParallel(ctx, cfg, reg, jobs, db, runOptions{inProcess: *inProcess, withFailures: *withFailures}, logger)
	} else {
		runErr = pool.RunSerial(ctx, reg, jobs)
	}

	theme := report.NewDefaultTheme()
	if *plain {
		theme = report.NewPlainTheme()
	}
	if err := summary.Render(os.Stdout, theme); err != nil {
		logger.Warn("failed to render summary", "error", err)
	}

	status := report.RunPassed
	switch {
	case runErr != nil:
		status = report.RunAborted
	case !summary.OK():
		status = report.RunFailed
	}
	if journal != nil {
		if n := journal.Unwritten(); n > 0 {
			logger.Warn("some results were not journaled", "count", n)
		}
		if err := journal.Finish(context.Background(), status); err != nil {
			logger.Error("failed to finish run", "run_id", journal.RunID(), "error", err)
		}
		fmt.Printf("run: %s\n", journal.RunID())
	}

	if runErr != nil {
		logger.Error("run aborted", "error", runErr)
		return 1
	}
	if status != report.RunPassed {
		return 1
	}
	return 0
}

func runParallel(ctx context.Context, cfg *config.Config, reg *suite.Registry, jobs []queue.Job, db *sql.DB, opts runOptions, logger *slog.Logger) error {
	hk := hooks.New()
	if err := registerScratchHooks(hk); err != nil {
		return err
	}

	var spawner pool.Spawner = &pool.InProcessSpawner{Runner: reg}
	if !opts.inProcess {
		env := cfg.WorkerEnv()
		if opts.withFailures {
			env = append(env, envWithFailures+"=1")
		}
		spawner = &pool.ExecSpawner{Env: env}
	}

	p, err := pool.New(cfg.Parallel.Workers, hk,
		pool.WithSpawner(spawner),
		pool.WithSocketDir(cfg.Parallel.SocketDir),
	)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	if cfg.API.Enabled {
		apiCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		server := api.New(api.Config{Listen: cfg.API.Listen}, p, db, log.WithComponent("api"))
		go func() {
			if err := server.Start(apiCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("API server stopped", "error", err)
			}
		}()
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := p.Push(job); err != nil {
			_ = p.Shutdown()
			return err
		}
	}
	if err := p.Shutdown(); err != nil {
		return err
	}
	return ctx.Err()
}

// runWorkerProcess is the entry point of a re-executed worker.
func runWorkerProcess(spec pool.WorkerSpec, specErr error) int {
	if specErr != nil {
		fmt.Fprintf(os.Stderr, "forkpool worker: %v\n", specErr)
		return 1
	}

	cfg, err := config.LoadForWorker()
	if err != nil {
		fmt.Fprintf(os.Stderr, "forkpool worker %d: %v\n", spec.Index, err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithWorker(spec.Index)

	reg, err := selfTestSuites(os.Getenv(envWithFailures) == "1")
	if err != nil {
		logger.Error("failed to register suites", "error", err)
		return 1
	}
	hk := hooks.New()
	if err := registerScratchHooks(hk); err != nil {
		logger.Error("failed to register hooks", "error", err)
		return 1
	}
	hk.Freeze()
	spec.Hooks = hk

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := pool.RunWorker(ctx, spec, reg); err != nil {
		return 1
	}
	return 0
}
