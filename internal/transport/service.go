package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/forkpool/internal/log"
)

// Handle addresses an object exported by a Service.
type Handle struct {
	URI string `json:"uri"`
	ID  uint64 `json:"id"`
}

// IsZero reports whether h addresses nothing.
func (h Handle) IsZero() bool { return h.URI == "" && h.ID == 0 }

func (h Handle) String() string { return fmt.Sprintf("%s#%d", h.URI, h.ID) }

// Service serves registered receivers on a unix socket.
type Service struct {
	uri      string
	path     string
	listener net.Listener
	server   *rpc.Server
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	conns   map[net.Conn]struct{}
	objects map[uint64]any
	ids     map[any]uint64
	nextID  uint64
}

// Start listens on a fresh socket inside dir (the system temp dir when empty).
func Start(dir string) (*Service, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	path := filepath.Join(dir, "forkpool-"+uuid.NewString()[:8]+".sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	s := &Service{
		uri:      "unix://" + path,
		path:     path,
		listener: ln,
		server:   rpc.NewServer(),
		logger:   log.WithComponent("transport"),
		conns:    make(map[net.Conn]struct{}),
		objects:  make(map[uint64]any),
		ids:      make(map[any]uint64),
	}

	s.wg.Add(1)
	go s.accept()

	s.logger.Debug("service started", "uri", s.uri)
	return s, nil
}

// URI is the address clients pass to Dial.
func (s *Service) URI() string { return s.uri }

// Register exposes the exported methods of rcvr under name.
func (s *Service) Register(name string, rcvr any) error {
	if err := s.server.RegisterName(name, rcvr); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}

// Export records obj in the object table and returns its handle. Exporting the
// same object again returns the same handle. Objects are keyed by identity, so
// obj must be of a comparable type; pointers always are.
func (s *Service) Export(obj any) (Handle, error) {
	if obj == nil {
		return Handle{}, fmt.Errorf("%w: nil", ErrNotExportable)
	}
	if t := reflect.TypeOf(obj); !t.Comparable() {
		return Handle{}, fmt.Errorf("%w: %s is not comparable", ErrNotExportable, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[obj]; ok {
		return Handle{URI: s.uri, ID: id}, nil
	}
	s.nextID++
	s.ids[obj] = s.nextID
	s.objects[s.nextID] = obj
	return Handle{URI: s.uri, ID: s.nextID}, nil
}

// Resolve returns the object behind h if h was exported by this service.
func (s *Service) Resolve(h Handle) (any, bool) {
	if h.URI != s.uri {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[h.ID]
	return obj, ok
}

// Stop closes the listener and every live connection. Calls still blocked
// inside a receiver keep running until the receiver returns.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()

	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		s.logger.Warn("failed to remove socket", "path", s.path, "error", rmErr)
	}
	s.logger.Debug("service stopped", "uri", s.uri)

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

func (s *Service) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go func() {
			s.server.ServeCodec(jsonrpc.NewServerCodec(conn))
			s.untrack(conn)
		}()
	}
}

func (s *Service) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Service) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// ParseURI splits a service URI into a net.Dial network and address.
// Supported schemes are unix:// and tcp://.
func ParseURI(uri string) (network, address string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("invalid service uri %q", uri)
	}
	switch scheme {
	case "unix", "tcp":
		return scheme, rest, nil
	default:
		return "", "", fmt.Errorf("unsupported service uri scheme %q", scheme)
	}
}
