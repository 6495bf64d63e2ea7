// Package suite is the minimal in-binary test framework the pool drives.
//
// Classes group named methods that share one BeforeAll/AfterAll context. The
// pool only needs two primitives from it: RunOneMethod, which turns a method
// into a Result, and WithInfoHandler, which wraps a whole batch of one class.
package suite

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/forkpool/internal/log"
)

// Reporter aggregates results. Synchronize must give mutual exclusion to fn.
type Reporter interface {
	Record(result *Result)
	Synchronize(fn func())
}

// Method is a test method body.
type Method func(t *T)

// Class is a named group of test methods.
type Class struct {
	Name    string
	Methods map[string]Method
	// BeforeAll and AfterAll run once per batch of this class on a worker.
	BeforeAll func()
	AfterAll  func()
}

// MethodNames returns the class's methods in a stable order.
func (c *Class) MethodNames() []string {
	names := make([]string, 0, len(c.Methods))
	for name := range c.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MethodRef addresses one method of one class.
type MethodRef struct {
	Class  string
	Method string
}

// Registry holds classes in registration order.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*Class)}
}

// Add registers c. Class names must be unique.
func (r *Registry) Add(c *Class) error {
	if c == nil || c.Name == "" {
		return errors.New("class name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classes[c.Name]; exists {
		return fmt.Errorf("class %q already registered", c.Name)
	}
	r.classes[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// Get looks up a class by name.
func (r *Registry) Get(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// Methods lists every method, class by class in registration order.
func (r *Registry) Methods() []MethodRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var refs []MethodRef
	for _, name := range r.order {
		for _, m := range r.classes[name].MethodNames() {
			refs = append(refs, MethodRef{Class: name, Method: m})
		}
	}
	return refs
}

// RunOneMethod runs one method and returns its result. Failures inside the
// method, including panics, are captured in the result rather than returned.
func (r *Registry) RunOneMethod(class, method string) *Result {
	res := &Result{Class: class, Method: method}

	c, ok := r.Get(class)
	if !ok {
		res.Failures = append(res.Failures, Failure{Kind: KindError, Err: fmt.Errorf("unknown test class %q", class)})
		return res
	}
	body, ok := c.Methods[method]
	if !ok {
		res.Failures = append(res.Failures, Failure{Kind: KindError, Err: fmt.Errorf("%s has no method %q", class, method)})
		return res
	}

	t := &T{}
	start := time.Now()
	t.run(body)
	res.Duration = time.Since(start)
	res.Assertions = t.assertions
	res.Failures = t.failures
	return res
}

// WithInfoHandler runs body inside the class context: BeforeAll first, AfterAll
// exactly once afterwards even if body panics. While body runs, SIGUSR1 logs
// which class the worker is busy with.
func (r *Registry) WithInfoHandler(class string, _ Reporter, body func()) {
	c, _ := r.Get(class)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)
	done := make(chan struct{})
	started := time.Now()
	go func() {
		logger := log.WithComponent("suite")
		for {
			select {
			case <-signals:
				logger.Info("running class", "class", class, "elapsed", time.Since(started).String())
			case <-done:
				return
			}
		}
	}()
	defer func() {
		signal.Stop(signals)
		close(done)
	}()

	if c != nil && c.AfterAll != nil {
		defer c.AfterAll()
	}
	if c != nil && c.BeforeAll != nil {
		c.BeforeAll()
	}
	body()
}
