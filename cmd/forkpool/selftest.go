package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattjoyce/forkpool/internal/hooks"
	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

// envWithFailures tells re-executed workers to register the failing suites too.
const envWithFailures = "FORKPOOL_WITH_FAILURES"

// bulkMethods is sized so the default suites exceed the default threshold.
const bulkMethods = 48

// mismatchError crosses the pool boundary intact.
type mismatchError struct {
	Want int `json:"want"`
	Got  int `json:"got"`
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("mismatch: want %d, got %d", e.Want, e.Got)
}

// handleError is deliberately not registered with the transport and so arrives
// at the reporter as a description.
type handleError struct {
	file *os.File
}

func (e *handleError) Error() string {
	return "bad handle " + e.file.Name()
}

func init() {
	transport.RegisterError(&mismatchError{})
}

func selfTestSuites(withFailures bool) (*suite.Registry, error) {
	reg := suite.NewRegistry()
	classes := []*suite.Class{arithmeticSuite(), stringsSuite(), scratchSuite(), bulkSuite()}
	if withFailures {
		classes = append(classes, failingSuite())
	}
	for _, c := range classes {
		if err := reg.Add(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func arithmeticSuite() *suite.Class {
	return &suite.Class{
		Name: "ArithmeticTest",
		Methods: map[string]suite.Method{
			"test_addition": func(t *suite.T) {
				t.Assert(2+2 == 4, "2+2 should be 4")
			},
			"test_multiplication": func(t *suite.T) {
				t.Assert(6*7 == 42, "6*7 should be 42")
			},
			"test_integer_division": func(t *suite.T) {
				t.Assert(7/2 == 3, "7/2 should truncate to 3")
				t.Assert(7%2 == 1, "7%%2 should be 1")
			},
		},
	}
}

func stringsSuite() *suite.Class {
	return &suite.Class{
		Name: "StringsTest",
		Methods: map[string]suite.Method{
			"test_fields": func(t *suite.T) {
				t.Assert(len(strings.Fields(" a  b c ")) == 3, "expected three fields")
			},
			"test_repeat": func(t *suite.T) {
				t.Assert(strings.Repeat("ab", 3) == "ababab", "repeat mismatch")
			},
			"test_title_case": func(t *suite.T) {
				t.Skipf("title casing depends on locale rules")
			},
		},
	}
}

func scratchSuite() *suite.Class {
	return &suite.Class{
		Name: "ScratchTest",
		Methods: map[string]suite.Method{
			"test_write_and_read": func(t *suite.T) {
				f, err := os.CreateTemp(scratchDir(), "roundtrip-*")
				if err != nil {
					t.Error(err)
					return
				}
				defer os.Remove(f.Name())
				_, err = f.WriteString("forkpool")
				_ = f.Close()
				t.Assert(err == nil, "write failed: %v", err)

				data, err := os.ReadFile(f.Name())
				t.Assert(err == nil && string(data) == "forkpool", "read back %q, %v", data, err)
			},
			"test_dir_exists": func(t *suite.T) {
				info, err := os.Stat(scratchDir())
				t.Assert(err == nil && info.IsDir(), "scratch dir missing: %v", err)
			},
		},
	}
}

func bulkSuite() *suite.Class {
	methods := make(map[string]suite.Method, bulkMethods)
	for i := 0; i < bulkMethods; i++ {
		n := (i + 1) * 1000
		methods[fmt.Sprintf("test_series_%02d", i)] = func(t *suite.T) {
			sum := 0
			for k := 1; k <= n; k++ {
				sum += k
			}
			if want := n * (n + 1) / 2; sum != want {
				t.Error(&mismatchError{Want: want, Got: sum})
			}
			t.Assert(true, "series")
		}
	}
	return &suite.Class{Name: "BulkTest", Methods: methods}
}

func failingSuite() *suite.Class {
	return &suite.Class{
		Name: "FailingTest",
		Methods: map[string]suite.Method{
			"test_assertion": func(t *suite.T) {
				t.Assert(1 == 2, "one is not two")
			},
			"test_portable_error": func(t *suite.T) {
				t.Error(&mismatchError{Want: 1, Got: 2})
			},
			"test_unportable_error": func(t *suite.T) {
				t.Error(&handleError{file: os.Stdin})
			},
			"test_panic": func(t *suite.T) {
				panic(errors.New("exploded"))
			},
		},
	}
}

// scratch is one temporary directory per process, shared by the workers it hosts.
var scratch struct {
	mu    sync.Mutex
	dir   string
	users int
}

// registerScratchHooks creates the scratch directory when the first worker of
// a process starts and removes it after the last one cleans up.
func registerScratchHooks(hk *hooks.Registry) error {
	if err := hk.AfterFork(func(worker int) {
		scratch.mu.Lock()
		defer scratch.mu.Unlock()
		scratch.users++
		if scratch.dir != "" {
			return
		}
		dir, err := os.MkdirTemp("", fmt.Sprintf("forkpool-%d-", os.Getpid()))
		if err != nil {
			log.WithWorker(worker).Warn("failed to create scratch dir", "error", err)
			return
		}
		scratch.dir = dir
	}); err != nil {
		return err
	}
	return hk.Cleanup(func(int) {
		scratch.mu.Lock()
		defer scratch.mu.Unlock()
		if scratch.users > 0 {
			scratch.users--
		}
		if scratch.users > 0 || scratch.dir == "" {
			return
		}
		_ = os.RemoveAll(scratch.dir)
		scratch.dir = ""
	})
}

// scratchDir falls back to the system temp dir outside a worker.
func scratchDir() string {
	scratch.mu.Lock()
	defer scratch.mu.Unlock()
	if scratch.dir == "" {
		return os.TempDir()
	}
	return scratch.dir
}
