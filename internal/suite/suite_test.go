package suite

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/transport"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type localErr struct{ Why string }

func (e *localErr) Error() string { return "local: " + e.Why }

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Add(&Class{
		Name: "MathTest",
		Methods: map[string]Method{
			"test_add": func(t *T) { t.Assert(1+1 == 2, "addition") },
			"test_bad": func(t *T) {
				t.Assert(false, "expected %d", 3)
				t.Assert(true, "fine")
			},
			"test_fatal": func(t *T) {
				t.Fatalf("stop here")
				t.Assert(true, "unreachable")
			},
			"test_skip":  func(t *T) { t.Skipf("not on this host") },
			"test_panic": func(t *T) { panic(&localErr{Why: "kaboom"}) },
			"test_text":  func(t *T) { panic("plain string") },
		},
	}))
	require.NoError(t, r.Add(&Class{Name: "EmptyTest", Methods: map[string]Method{"test_a": func(*T) {}}}))
	return r
}

func TestRegistry_AddRejectsDuplicates(t *testing.T) {
	r := newRegistry(t)
	assert.Error(t, r.Add(&Class{Name: "MathTest"}))
	assert.Error(t, r.Add(&Class{}))
}

func TestRegistry_MethodsOrder(t *testing.T) {
	refs := newRegistry(t).Methods()
	require.Len(t, refs, 7)
	assert.Equal(t, MethodRef{Class: "MathTest", Method: "test_add"}, refs[0])
	assert.Equal(t, MethodRef{Class: "EmptyTest", Method: "test_a"}, refs[6])
}

func TestRunOneMethod(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		method     string
		status     Status
		assertions int
		failures   int
	}{
		{"test_add", StatusPass, 1, 0},
		{"test_bad", StatusFail, 2, 1},
		{"test_fatal", StatusFail, 0, 1},
		{"test_skip", StatusSkip, 0, 1},
		{"test_panic", StatusError, 0, 1},
		{"test_text", StatusError, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			res := r.RunOneMethod("MathTest", tt.method)
			assert.Equal(t, tt.status, res.Status())
			assert.Equal(t, tt.assertions, res.Assertions)
			assert.Len(t, res.Failures, tt.failures)
			assert.Equal(t, "MathTest#"+tt.method, res.Name())
		})
	}
}

func TestRunOneMethod_PanicKeepsErrorValue(t *testing.T) {
	res := newRegistry(t).RunOneMethod("MathTest", "test_panic")
	var le *localErr
	require.ErrorAs(t, res.Failures[0].Err, &le)
	assert.Equal(t, "kaboom", le.Why)
}

func TestRunOneMethod_UnknownTargets(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, StatusError, r.RunOneMethod("Nope", "test_a").Status())
	assert.Equal(t, StatusError, r.RunOneMethod("MathTest", "test_nope").Status())
}

func TestWithInfoHandler_ContextRunsOnce(t *testing.T) {
	var calls []string
	r := NewRegistry()
	require.NoError(t, r.Add(&Class{
		Name:      "CtxTest",
		Methods:   map[string]Method{"test_a": func(*T) {}},
		BeforeAll: func() { calls = append(calls, "before") },
		AfterAll:  func() { calls = append(calls, "after") },
	}))

	r.WithInfoHandler("CtxTest", nil, func() { calls = append(calls, "body") })
	assert.Equal(t, []string{"before", "body", "after"}, calls)

	calls = nil
	assert.Panics(t, func() {
		r.WithInfoHandler("CtxTest", nil, func() { panic("body failed") })
	})
	assert.Equal(t, []string{"before", "after"}, calls, "AfterAll runs even when body panics")
}

func TestResultJSON_UnregisteredErrorIsUnknown(t *testing.T) {
	res := &Result{Class: "A", Method: "m", Failures: []Failure{{Kind: KindError, Err: &localErr{Why: "x"}}}}
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var back Result
	err = json.Unmarshal(data, &back)
	require.Error(t, err)
	assert.True(t, transport.IsUnknown(err))
}

func TestResultJSON_RegisteredErrorsRoundTrip(t *testing.T) {
	res := &Result{
		Class:      "A",
		Method:     "m",
		Assertions: 2,
		Failures: []Failure{
			{Kind: KindAssertion, Err: errors.New("expected 3")},
			{Kind: KindError, Err: transport.NewRemoteError(&localErr{Why: "y"})},
		},
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, StatusError, back.Status())
	assert.Equal(t, "expected 3", back.Failures[0].Message())
	assert.Equal(t, "local: y", back.Failures[1].Message())
}
