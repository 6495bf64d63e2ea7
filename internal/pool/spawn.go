package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattjoyce/forkpool/internal/hooks"
)

// Environment handed to re-executed workers.
const (
	EnvWorkerIndex = "FORKPOOL_WORKER_INDEX"
	EnvServiceURI  = "FORKPOOL_SERVICE_URI"
)

// WorkerSpec is everything a worker needs to join a pool.
type WorkerSpec struct {
	Index int
	URI   string
	// Hooks is nil in a re-executed worker until its main supplies the registry.
	Hooks *hooks.Registry
}

// Process is a spawned worker.
type Process interface {
	Pid() int
	// Wait blocks until the worker has exited. Calling it again returns the same result.
	Wait() error
}

// Spawner creates worker processes.
type Spawner interface {
	Spawn(spec WorkerSpec) (Process, error)
}

// ExecSpawner starts each worker by executing a binary (the running one by
// default) with the worker environment set. The binary is expected to call
// WorkerFromEnv before anything else.
type ExecSpawner struct {
	Path string
	Args []string
	// Env is appended to the parent's environment.
	Env []string
	// Output receives the worker's stdout and stderr; os.Stderr when nil.
	Output io.Writer
}

func (s *ExecSpawner) Spawn(spec WorkerSpec) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env,
		EnvWorkerIndex+"="+strconv.Itoa(spec.Index),
		EnvServiceURI+"="+spec.URI,
	)
	out := s.Output
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error {
	p.once.Do(func() {
		p.err = p.cmd.Wait()
	})
	return p.err
}

// InProcessSpawner runs each worker on a goroutine of the current process. The
// workers still talk to the pool over its RPC endpoint.
type InProcessSpawner struct {
	Runner Runner
}

func (s *InProcessSpawner) Spawn(spec WorkerSpec) (Process, error) {
	if s.Runner == nil {
		return nil, errors.New("in-process spawner has no runner")
	}
	p := &goroutineProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = RunWorker(context.Background(), spec, s.Runner)
	}()
	return p, nil
}

type goroutineProcess struct {
	done chan struct{}
	err  error
}

func (p *goroutineProcess) Pid() int { return os.Getpid() }

func (p *goroutineProcess) Wait() error {
	<-p.done
	return p.err
}

// WorkerFromEnv reports whether this process was started as a worker and, if
// so, returns its spec. The worker variables are removed from the environment
// so that anything the worker starts does not inherit them.
func WorkerFromEnv() (WorkerSpec, bool, error) {
	raw, ok := os.LookupEnv(EnvWorkerIndex)
	if !ok {
		return WorkerSpec{}, false, nil
	}
	uri := os.Getenv(EnvServiceURI)
	_ = os.Unsetenv(EnvWorkerIndex)
	_ = os.Unsetenv(EnvServiceURI)

	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return WorkerSpec{}, true, fmt.Errorf("invalid %s %q", EnvWorkerIndex, raw)
	}
	if uri == "" {
		return WorkerSpec{}, true, fmt.Errorf("%s is not set", EnvServiceURI)
	}
	return WorkerSpec{Index: index, URI: uri}, true, nil
}
