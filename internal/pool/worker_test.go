package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/forkpool/internal/hooks"
	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/pool/mocks"
	"github.com/mattjoyce/forkpool/internal/protocol"
	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	// ExecSpawner tests re-execute this binary as a worker.
	if spec, ok, err := WorkerFromEnv(); ok {
		os.Exit(runTestWorker(spec, err))
	}
	os.Exit(m.Run())
}

// envTestMarkers names the directory where a re-executed worker leaves one file
// per hook it ran.
const envTestMarkers = "FORKPOOL_TEST_MARKERS"

func runTestWorker(spec WorkerSpec, specErr error) int {
	if specErr != nil {
		fmt.Fprintln(os.Stderr, specErr)
		return 1
	}
	reg, _, err := newTestRegistry()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dir := os.Getenv(envTestMarkers)
	mark := func(name string) hooks.Hook {
		return func(w int) {
			_ = os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s-%d", name, w)), nil, 0o644)
		}
	}
	hk := hooks.New()
	if err := hk.AfterFork(mark("after-fork")); err != nil {
		return 1
	}
	if err := hk.Cleanup(mark("cleanup")); err != nil {
		return 1
	}
	spec.Hooks = hk

	if err := RunWorker(context.Background(), spec, reg); err != nil {
		return 1
	}
	return 0
}

// localErr is never registered with the transport, so it cannot cross a process boundary.
type localErr struct{ Why string }

func (e *localErr) Error() string { return "local: " + e.Why }

// classCounter counts how often each class context is entered.
type classCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *classCounter) enter(class string) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.counts[class]++
	}
}

func (c *classCounter) get(class string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[class]
}

func testRegistry(t *testing.T) (*suite.Registry, *classCounter) {
	t.Helper()
	reg, counter, err := newTestRegistry()
	require.NoError(t, err)
	return reg, counter
}

func newTestRegistry() (*suite.Registry, *classCounter, error) {
	counter := &classCounter{counts: make(map[string]int)}
	reg := suite.NewRegistry()
	classes := []*suite.Class{
		{
			Name:      "A",
			BeforeAll: counter.enter("A"),
			Methods: map[string]suite.Method{
				"test_m1": func(t *suite.T) { t.Assert(true, "m1") },
				"test_m2": func(t *suite.T) { t.Assert(2 > 1, "m2") },
			},
		},
		{
			Name:      "B",
			BeforeAll: counter.enter("B"),
			Methods: map[string]suite.Method{
				"test_m1": func(t *suite.T) { t.Assert(true, "m1") },
			},
		},
		{
			Name: "Broken",
			Methods: map[string]suite.Method{
				"test_unportable": func(t *suite.T) { t.Error(&localErr{Why: "disk"}) },
			},
		},
	}
	for _, c := range classes {
		if err := reg.Add(c); err != nil {
			return nil, nil, err
		}
	}
	return reg, counter, nil
}

// hookLog records which workers ran each chain.
type hookLog struct {
	mu        sync.Mutex
	afterFork []int
	cleanup   []int
}

func (l *hookLog) register(t *testing.T, r *hooks.Registry) {
	t.Helper()
	require.NoError(t, r.AfterFork(func(w int) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.afterFork = append(l.afterFork, w)
	}))
	require.NoError(t, r.Cleanup(func(w int) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.cleanup = append(l.cleanup, w)
	}))
}

func (l *hookLog) snapshot() (afterFork, cleanup []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	afterFork = append([]int(nil), l.afterFork...)
	cleanup = append([]int(nil), l.cleanup...)
	sort.Ints(afterFork)
	sort.Ints(cleanup)
	return afterFork, cleanup
}

var testHandle = transport.Handle{URI: "unix:///tmp/forkpool-test.sock", ID: 1}

func batchItem(class string, methods ...string) protocol.Item {
	return protocol.Item{Batch: &protocol.Batch{Class: class, Methods: methods, Reporter: testHandle}}
}

func TestWorker_StopEndsLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg, _ := testRegistry(t)
	src := mocks.NewMockJobSource(ctrl)
	src.EXPECT().Pop(gomock.Any()).Return(protocol.Item{Stop: true}, nil)

	assert.NoError(t, NewWorker(0, src, reg).Run(context.Background()))
}

func TestWorker_RunsBatchInOneClassContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg, counter := testRegistry(t)
	src := mocks.NewMockJobSource(ctrl)

	var recorded []string
	gomock.InOrder(
		src.EXPECT().Pop(gomock.Any()).Return(batchItem("A", "test_m1", "test_m2"), nil),
		src.EXPECT().Record(gomock.Any(), testHandle, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ transport.Handle, r *suite.Result) error {
				recorded = append(recorded, r.Name())
				return nil
			}).Times(2),
		// An empty item is treated as a stop.
		src.EXPECT().Pop(gomock.Any()).Return(protocol.Item{}, nil),
	)

	require.NoError(t, NewWorker(0, src, reg).Run(context.Background()))
	assert.Equal(t, []string{"A#test_m1", "A#test_m2"}, recorded)
	assert.Equal(t, 1, counter.get("A"))
}

func TestWorker_RetriesOnceWithPortableFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg, _ := testRegistry(t)
	src := mocks.NewMockJobSource(ctrl)

	gomock.InOrder(
		src.EXPECT().Pop(gomock.Any()).Return(batchItem("Broken", "test_unportable"), nil),
		src.EXPECT().Record(gomock.Any(), testHandle, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ transport.Handle, r *suite.Result) error {
				assert.IsType(t, &localErr{}, r.Failures[0].Err)
				return fmt.Errorf("Queue.Record: %w", transport.ErrConnection)
			}),
		src.EXPECT().Record(gomock.Any(), testHandle, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ transport.Handle, r *suite.Result) error {
				remote, ok := r.Failures[0].Err.(*transport.RemoteError)
				if assert.True(t, ok, "failure should be a RemoteError, got %T", r.Failures[0].Err) {
					assert.Equal(t, "local: disk", remote.Message)
					assert.Equal(t, transport.KindOf(&localErr{}), remote.Kind)
				}
				assert.Equal(t, suite.KindError, r.Failures[0].Kind)
				return nil
			}),
		src.EXPECT().Pop(gomock.Any()).Return(protocol.Item{Stop: true}, nil),
	)

	assert.NoError(t, NewWorker(0, src, reg).Run(context.Background()))
}

func TestWorker_SecondConnectionErrorEndsLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg, _ := testRegistry(t)
	src := mocks.NewMockJobSource(ctrl)

	src.EXPECT().Pop(gomock.Any()).Return(batchItem("Broken", "test_unportable"), nil)
	src.EXPECT().Record(gomock.Any(), testHandle, gomock.Any()).Return(transport.ErrConnection).Times(2)

	err := NewWorker(0, src, reg).Run(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsConnection(err))
}

func TestWorker_ApplicationErrorIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg, _ := testRegistry(t)
	src := mocks.NewMockJobSource(ctrl)

	src.EXPECT().Pop(gomock.Any()).Return(batchItem("A", "test_m1", "test_m2"), nil)
	src.EXPECT().Record(gomock.Any(), testHandle, gomock.Any()).Return(errors.New("reporter exploded"))

	err := NewWorker(0, src, reg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reporter exploded")
	assert.False(t, transport.IsConnection(err))
}

func TestWorker_PopErrorEndsLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg, _ := testRegistry(t)
	src := mocks.NewMockJobSource(ctrl)
	src.EXPECT().Pop(gomock.Any()).Return(protocol.Item{}, transport.ErrConnection)

	err := NewWorker(0, src, reg).Run(context.Background())
	assert.True(t, transport.IsConnection(err))
}

func TestRunWorker_CleanupRunsWhenDialFails(t *testing.T) {
	reg, _ := testRegistry(t)
	hk := hooks.New()
	var calls hookLog
	calls.register(t, hk)

	uri := "unix://" + filepath.Join(t.TempDir(), "missing.sock")
	err := RunWorker(context.Background(), WorkerSpec{Index: 2, URI: uri, Hooks: hk}, reg)

	require.Error(t, err)
	assert.True(t, transport.IsConnection(err))
	afterFork, cleanup := calls.snapshot()
	assert.Equal(t, []int{2}, afterFork)
	assert.Equal(t, []int{2}, cleanup)
}

func TestRunWorker_CleanupRunsAfterPanic(t *testing.T) {
	reg, _ := testRegistry(t)
	hk := hooks.New()
	require.NoError(t, hk.AfterFork(func(int) { panic("no database") }))
	var calls hookLog
	calls.register(t, hk)

	err := RunWorker(context.Background(), WorkerSpec{Index: 1, URI: "unix:///unused.sock", Hooks: hk}, reg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
	_, cleanup := calls.snapshot()
	assert.Equal(t, []int{1}, cleanup)
}

func TestWorkerFromEnv(t *testing.T) {
	t.Run("worker", func(t *testing.T) {
		t.Setenv(EnvWorkerIndex, "3")
		t.Setenv(EnvServiceURI, "unix:///tmp/forkpool-x.sock")

		spec, ok, err := WorkerFromEnv()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, spec.Index)
		assert.Equal(t, "unix:///tmp/forkpool-x.sock", spec.URI)

		_, still := os.LookupEnv(EnvWorkerIndex)
		assert.False(t, still, "worker environment should be cleared")
	})

	t.Run("not a worker", func(t *testing.T) {
		t.Setenv(EnvWorkerIndex, "")
		require.NoError(t, os.Unsetenv(EnvWorkerIndex))

		_, ok, err := WorkerFromEnv()
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bad index", func(t *testing.T) {
		t.Setenv(EnvWorkerIndex, "two")
		t.Setenv(EnvServiceURI, "unix:///tmp/forkpool-x.sock")

		_, ok, err := WorkerFromEnv()
		assert.True(t, ok)
		assert.Error(t, err)
	})
}
