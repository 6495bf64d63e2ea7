package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/metrics"
	"github.com/mattjoyce/forkpool/internal/protocol"
	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

// Server owns the shared FIFO. Consecutive jobs of one class are buffered and
// flushed as a single batch when the class changes or a stop is pushed.
type Server struct {
	exporter Exporter
	logger   *slog.Logger

	mu     sync.Mutex
	ready  *sync.Cond
	items  []protocol.Item
	closed bool
	pushed int

	// batch being accumulated
	class    string
	methods  []string
	reporter transport.Handle

	recordedMu sync.Mutex
	recorded   int

	remotesMu sync.Mutex
	remotes   map[string]*transport.Client
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server whose reporter handles come from exporter.
func NewServer(exporter Exporter, opts ...Option) *Server {
	s := &Server{
		exporter: exporter,
		logger:   log.WithComponent("queue"),
		remotes:  make(map[string]*transport.Client),
	}
	s.ready = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push adds one job. A nil job flushes the pending batch and then enqueues a
// stop marker, so a stop never overtakes work pushed before it.
func (s *Server) Push(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if job == nil {
		s.flushLocked()
		s.enqueueLocked(protocol.Item{Stop: true})
		metrics.StopsQueued.Inc()
		return nil
	}
	if job.Class == "" || job.Method == "" {
		return fmt.Errorf("job needs a class and a method, got %q#%q", job.Class, job.Method)
	}
	if job.Reporter == nil {
		return fmt.Errorf("job %s#%s has no reporter", job.Class, job.Method)
	}

	// Re-export on every push: the batch carries the handle seen last.
	h, err := s.exporter.Export(job.Reporter)
	if err != nil {
		return fmt.Errorf("job %s#%s: %w", job.Class, job.Method, err)
	}
	if job.Class != s.class {
		s.flushLocked()
		s.class = job.Class
	}
	s.reporter = h
	s.methods = append(s.methods, job.Method)
	s.pushed++
	return nil
}

func (s *Server) flushLocked() {
	if len(s.methods) == 0 {
		return
	}
	batch := &protocol.Batch{Class: s.class, Methods: s.methods, Reporter: s.reporter}
	s.methods = nil
	s.enqueueLocked(protocol.Item{Batch: batch})
	metrics.BatchesQueued.Inc()
	s.logger.Debug("batch queued", "class", batch.Class, "methods", len(batch.Methods))
}

func (s *Server) enqueueLocked(it protocol.Item) {
	s.items = append(s.items, it)
	metrics.QueueDepth.Set(float64(len(s.items)))
	s.ready.Signal()
}

// Pop blocks until an item is available and returns it in FIFO order.
// After Close it drains what is left, then returns ErrClosed.
func (s *Server) Pop() (protocol.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.items) == 0 && !s.closed {
		s.ready.Wait()
	}
	if len(s.items) == 0 {
		return protocol.Item{}, ErrClosed
	}
	it := s.items[0]
	s.items[0] = protocol.Item{}
	s.items = s.items[1:]
	metrics.QueueDepth.Set(float64(len(s.items)))
	return it, nil
}

// Depth is the number of items waiting, not counting the open batch.
func (s *Server) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Pushed is the number of jobs accepted so far.
func (s *Server) Pushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// Pending is the number of methods buffered in the open batch.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.methods)
}

// Close wakes blocked Pop calls and rejects further pushes.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.ready.Broadcast()
	s.mu.Unlock()

	s.remotesMu.Lock()
	defer s.remotesMu.Unlock()
	for uri, c := range s.remotes {
		_ = c.Close()
		delete(s.remotes, uri)
	}
}

// Record delivers one encoded result to the reporter behind h.
// A result holding a value this process cannot rebuild is refused with
// transport.ErrConnection before the reporter sees anything.
func (s *Server) Record(h transport.Handle, raw json.RawMessage) error {
	result, err := protocol.DecodeResult(raw)
	if err != nil {
		if transport.IsUnknown(err) {
			metrics.ResultsRejected.Inc()
			s.logger.Warn("refusing result with unreadable value", "reporter", h.String(), "error", err)
			return fmt.Errorf("record: %w: %v", transport.ErrConnection, err)
		}
		return fmt.Errorf("record: %w", err)
	}

	local, remote, err := s.reporterFor(h)
	if err != nil {
		return fmt.Errorf("record %s: %w", result.Name(), err)
	}

	if remote != nil {
		if err := remote.Deliver(context.Background(), raw); err != nil {
			if transport.IsConnection(err) {
				s.dropRemote(h.URI)
			}
			s.logger.Warn("forwarding result failed", "reporter", remote.Handle().String(), "test", result.Name(), "error", err)
			return fmt.Errorf("record %s via %s: %w", result.Name(), remote.Handle(), err)
		}
	} else {
		local.Synchronize(func() {
			local.Record(result)
		})
	}

	s.recordedMu.Lock()
	s.recorded++
	s.recordedMu.Unlock()
	metrics.ResultsRecorded.WithLabelValues(string(result.Status())).Inc()
	return nil
}

// Recorded is the number of results delivered so far.
func (s *Server) Recorded() int {
	s.recordedMu.Lock()
	defer s.recordedMu.Unlock()
	return s.recorded
}

// reporterFor resolves a local export, or a proxy to the service owning h.
// Exactly one of the returned reporters is set when err is nil.
func (s *Server) reporterFor(h transport.Handle) (suite.Reporter, *RemoteReporter, error) {
	if obj, ok := s.exporter.Resolve(h); ok {
		r, ok := obj.(suite.Reporter)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s is %T", ErrUnknownReporter, h, obj)
		}
		return r, nil, nil
	}
	if h.IsZero() || h.URI == s.exporter.URI() {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownReporter, h)
	}

	s.remotesMu.Lock()
	defer s.remotesMu.Unlock()
	c, ok := s.remotes[h.URI]
	if !ok {
		var err error
		c, err = transport.Dial(h.URI)
		if err != nil {
			return nil, nil, err
		}
		s.remotes[h.URI] = c
	}
	return nil, NewRemoteReporter(c, h), nil
}

// dropRemote forgets a broken connection so the next record redials.
func (s *Server) dropRemote(uri string) {
	s.remotesMu.Lock()
	defer s.remotesMu.Unlock()
	if c, ok := s.remotes[uri]; ok {
		_ = c.Close()
		delete(s.remotes, uri)
	}
}
