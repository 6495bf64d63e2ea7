package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/protocol"
	"github.com/mattjoyce/forkpool/internal/queue"
	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mattjoyce/forkpool/internal/pool JobSource

// JobSource is the worker's view of the shared queue.
type JobSource interface {
	Pop(ctx context.Context) (protocol.Item, error)
	Record(ctx context.Context, reporter transport.Handle, result *suite.Result) error
}

// Runner executes test methods. *suite.Registry implements it.
type Runner interface {
	RunOneMethod(class, method string) *suite.Result
	WithInfoHandler(class string, reporter suite.Reporter, body func())
}

// Worker pulls batches until it receives a stop.
type Worker struct {
	index  int
	source JobSource
	runner Runner
	logger *slog.Logger
}

// NewWorker creates the run loop for worker index.
func NewWorker(index int, source JobSource, runner Runner) *Worker {
	return &Worker{
		index:  index,
		source: source,
		runner: runner,
		logger: log.WithWorker(index),
	}
}

// Run loops until a stop item arrives (nil) or popping or recording fails.
func (w *Worker) Run(ctx context.Context) error {
	for {
		it, err := w.source.Pop(ctx)
		if err != nil {
			return fmt.Errorf("pop: %w", err)
		}
		if it.IsStop() {
			w.logger.Debug("stop received")
			return nil
		}
		if err := w.runBatch(ctx, it.Batch); err != nil {
			return err
		}
	}
}

func (w *Worker) runBatch(ctx context.Context, b *protocol.Batch) error {
	w.logger.Debug("batch started", "class", b.Class, "methods", len(b.Methods))

	var err error
	reporter := &batchReporter{worker: w, ctx: ctx, handle: b.Reporter}
	w.runner.WithInfoHandler(b.Class, reporter, func() {
		for _, method := range b.Methods {
			result := w.runner.RunOneMethod(b.Class, method)
			if err = w.record(ctx, b.Reporter, result); err != nil {
				return
			}
		}
	})
	return err
}

// record sends result once. If the queue refuses it as a connection error the
// failures are reduced to their descriptions and it is sent exactly one more
// time; the second error is returned as is.
func (w *Worker) record(ctx context.Context, h transport.Handle, result *suite.Result) error {
	err := w.source.Record(ctx, h, result)
	if err == nil {
		return nil
	}
	if !transport.IsConnection(err) {
		return fmt.Errorf("record %s: %w", result.Name(), err)
	}

	w.logger.Warn("record refused, resending with portable failures", "test", result.Name(), "error", err)
	for i := range result.Failures {
		if result.Failures[i].Err != nil {
			result.Failures[i].Err = transport.NewRemoteError(result.Failures[i].Err)
		}
	}
	if err := w.source.Record(ctx, h, result); err != nil {
		return fmt.Errorf("record %s: %w", result.Name(), err)
	}
	return nil
}

// batchReporter is the reporter a batch's info handler sees on the worker side.
type batchReporter struct {
	worker *Worker
	ctx    context.Context
	handle transport.Handle
	mu     sync.Mutex
}

func (r *batchReporter) Record(result *suite.Result) {
	if err := r.worker.record(r.ctx, r.handle, result); err != nil {
		r.worker.logger.Error("record from info handler failed", "test", result.Name(), "error", err)
	}
}

func (r *batchReporter) Synchronize(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// RunWorker is the whole life of one worker: after-fork hooks, the run loop
// against the pool at spec.URI, then cleanup hooks on every way out.
func RunWorker(ctx context.Context, spec WorkerSpec, runner Runner) (err error) {
	logger := log.WithWorker(spec.Index)
	defer func() {
		spec.Hooks.RunCleanup(spec.Index)
		if err != nil {
			logger.Error("worker failed", "error", err)
		} else {
			logger.Debug("worker exited")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panicked: %v", spec.Index, r)
		}
	}()

	spec.Hooks.RunAfterFork(spec.Index)

	c, err := transport.Dial(spec.URI)
	if err != nil {
		return fmt.Errorf("worker %d: %w", spec.Index, err)
	}
	defer c.Close()

	logger.Debug("worker running", "uri", spec.URI)
	return NewWorker(spec.Index, queue.NewClient(c, spec.Index), runner).Run(ctx)
}
