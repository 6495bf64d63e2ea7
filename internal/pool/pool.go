// Package pool runs test batches on a fixed set of worker processes.
//
// The parent process owns the queue and serves it over a transport service.
// Workers pull batches from it, run every method of a batch inside one class
// context and send each result back to the reporter that queued the job.
// Shutdown pushes one stop per worker and waits for all of them to exit.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/forkpool/internal/hooks"
	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/metrics"
	"github.com/mattjoyce/forkpool/internal/queue"
	"github.com/mattjoyce/forkpool/internal/storage"
	"github.com/mattjoyce/forkpool/internal/transport"
)

var (
	ErrNotRunning = errors.New("pool is not running")
	ErrStarted    = errors.New("pool already started")
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	default:
		return "closed"
	}
}

// Pool is a fixed-size set of workers fed from one queue.
type Pool struct {
	size    int
	hooks   *hooks.Registry
	spawner Spawner
	dir     string
	logger  *slog.Logger

	mu      sync.Mutex
	state   state
	service *transport.Service
	server  *queue.Server
	workers []*member

	running atomic.Int32
}

type member struct {
	index int
	done  chan struct{}
	err   error
}

// Option configures a Pool.
type Option func(*Pool)

// WithSpawner replaces the default ExecSpawner.
func WithSpawner(s Spawner) Option {
	return func(p *Pool) { p.spawner = s }
}

// WithSocketDir sets where the service socket is created.
func WithSocketDir(dir string) Option {
	return func(p *Pool) { p.dir = dir }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a pool of size workers. hk is frozen when the pool starts.
func New(size int, hk *hooks.Registry, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if hk == nil {
		hk = hooks.New()
	}
	p := &Pool{
		size:    size,
		hooks:   hk,
		spawner: &ExecSpawner{},
		logger:  log.WithComponent("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Start serves the queue and spawns the workers. Either every worker is
// spawned or none is left running: on a spawn failure the workers already
// started are stopped and waited for before the error is returned.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateIdle {
		return ErrStarted
	}
	if p.dir != "" {
		if err := storage.ValidateLocalPath(p.dir); err != nil {
			return fmt.Errorf("socket directory: %w", err)
		}
	}
	p.hooks.Freeze()

	svc, err := transport.Start(p.dir)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	server := queue.NewServer(svc, queue.WithLogger(p.logger))
	if err := svc.Register("Queue", queue.NewEndpoint(server)); err != nil {
		_ = svc.Stop()
		return err
	}
	if err := svc.Register("Reporter", queue.NewReporterEndpoint(svc)); err != nil {
		_ = svc.Stop()
		return err
	}
	p.service = svc
	p.server = server

	for i := 0; i < p.size; i++ {
		err := ctx.Err()
		var proc Process
		if err == nil {
			proc, err = p.spawner.Spawn(WorkerSpec{Index: i, URI: svc.URI(), Hooks: p.hooks})
		}
		if err != nil {
			p.logger.Error("spawn failed, stopping started workers", "worker", i, "started", len(p.workers), "error", err)
			if terr := p.teardown(p.workers); terr != nil {
				p.logger.Warn("teardown after failed start", "error", terr)
			}
			p.state = stateClosed
			return fmt.Errorf("spawn worker %d: %w", i, err)
		}
		p.workers = append(p.workers, p.watch(i, proc))
	}

	p.state = stateRunning
	afterFork, cleanup := p.hooks.Len()
	p.logger.Info("pool started", "workers", p.size, "uri", svc.URI(), "after_fork_hooks", afterFork, "cleanup_hooks", cleanup)
	return nil
}

// watch reaps proc in the background.
func (p *Pool) watch(index int, proc Process) *member {
	m := &member{index: index, done: make(chan struct{})}
	p.running.Add(1)
	metrics.WorkersRunning.Inc()
	p.logger.Debug("worker spawned", "worker", index, "pid", proc.Pid())

	go func() {
		m.err = proc.Wait()
		p.running.Add(-1)
		metrics.WorkersRunning.Dec()
		if m.err != nil {
			metrics.WorkerExits.WithLabelValues("error").Inc()
			p.logger.Warn("worker exited abnormally", "worker", index, "pid", proc.Pid(), "error", m.err)
		} else {
			metrics.WorkerExits.WithLabelValues("ok").Inc()
			p.logger.Debug("worker exited", "worker", index, "pid", proc.Pid())
		}
		close(m.done)
	}()
	return m
}

// Push queues one job.
func (p *Pool) Push(job queue.Job) error {
	p.mu.Lock()
	server, st := p.server, p.state
	p.mu.Unlock()

	if st != stateRunning {
		return ErrNotRunning
	}
	return server.Push(&job)
}

// Shutdown pushes one stop per worker and waits for every worker to exit.
// It is called once after the last Push; further calls return nil at once.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = stateClosed
	workers := p.workers
	p.mu.Unlock()

	p.logger.Info("shutting down pool", "workers", len(workers))
	return p.teardown(workers)
}

func (p *Pool) teardown(workers []*member) error {
	for range workers {
		if err := p.server.Push(nil); err != nil {
			return fmt.Errorf("push stop: %w", err)
		}
	}
	var crashed []int
	for _, m := range workers {
		<-m.done
		if m.err != nil {
			crashed = append(crashed, m.index)
		}
	}
	if len(crashed) > 0 {
		p.logger.Warn("some workers exited abnormally", "workers", crashed)
	}

	p.server.Close()
	if err := p.service.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// Status is a point-in-time view of a pool.
type Status struct {
	State    string `json:"state"`
	Size     int    `json:"size"`
	Running  int    `json:"running"`
	Depth    int    `json:"queue_depth"`
	Pushed   int    `json:"jobs_pushed"`
	Recorded int    `json:"results_recorded"`
}

// Status reports the pool's current state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	server, st := p.server, p.state
	p.mu.Unlock()

	s := Status{State: st.String(), Size: p.size, Running: int(p.running.Load())}
	if server != nil {
		s.Depth = server.Depth()
		s.Pushed = server.Pushed()
		s.Recorded = server.Recorded()
	}
	return s
}
