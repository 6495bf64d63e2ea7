package suite

import (
	"errors"
	"fmt"
)

// abort unwinds a method after Fatalf or Skipf.
type abort struct{}

// T is passed to every test method.
type T struct {
	assertions int
	failures   []Failure
}

// Assert counts an assertion and records a failure when cond is false.
func (t *T) Assert(cond bool, format string, args ...any) {
	t.assertions++
	if !cond {
		t.failures = append(t.failures, Failure{Kind: KindAssertion, Err: fmt.Errorf(format, args...)})
	}
}

// Errorf records an assertion failure and continues.
func (t *T) Errorf(format string, args ...any) {
	t.failures = append(t.failures, Failure{Kind: KindAssertion, Err: fmt.Errorf(format, args...)})
}

// Error records err itself as an unexpected error and continues. The value is
// sent to the reporter as is, so its type should be registered with the transport.
func (t *T) Error(err error) {
	if err == nil {
		return
	}
	t.failures = append(t.failures, Failure{Kind: KindError, Err: err})
}

// Fatalf records an assertion failure and stops the method.
func (t *T) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	panic(abort{})
}

// Skipf records a skip and stops the method.
func (t *T) Skipf(format string, args ...any) {
	t.failures = append(t.failures, Failure{Kind: KindSkip, Err: fmt.Errorf(format, args...)})
	panic(abort{})
}

func (t *T) run(body Method) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if _, ok := v.(abort); ok {
			return
		}
		t.failures = append(t.failures, Failure{Kind: KindError, Err: panicError(v)})
	}()
	body(t)
}

// panicError keeps panicked errors as they are so their type travels with them.
func panicError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New(fmt.Sprint("panic: ", v))
}
