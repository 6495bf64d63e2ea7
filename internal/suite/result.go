package suite

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/forkpool/internal/transport"
)

// FailureKind distinguishes failed assertions from unexpected errors and skips.
type FailureKind string

const (
	KindAssertion FailureKind = "assertion"
	KindError     FailureKind = "error"
	KindSkip      FailureKind = "skip"
)

// Status is the outcome of one test method.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
	StatusSkip  Status = "skip"
)

// Failure is one problem recorded by a test method. Err may be replaced
// before the result is sent again.
type Failure struct {
	Kind FailureKind
	Err  error
}

type wireFailure struct {
	Kind  FailureKind              `json:"kind"`
	Error *transport.ErrorEnvelope `json:"error,omitempty"`
}

func (f Failure) MarshalJSON() ([]byte, error) {
	w := wireFailure{Kind: f.Kind}
	if f.Err != nil {
		env := transport.EncodeError(f.Err)
		w.Error = &env
	}
	return json.Marshal(w)
}

// UnmarshalJSON fails with a *transport.UnknownError when the embedded error
// cannot be rebuilt in this process.
func (f *Failure) UnmarshalJSON(data []byte) error {
	var w wireFailure
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.Kind = w.Kind
	f.Err = nil
	if w.Error != nil {
		err, derr := transport.DecodeError(*w.Error)
		if derr != nil {
			return derr
		}
		f.Err = err
	}
	return nil
}

// Message is the failure's description.
func (f Failure) Message() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

// Result is the outcome of running one method of one class.
type Result struct {
	Class      string        `json:"class"`
	Method     string        `json:"method"`
	Assertions int           `json:"assertions"`
	Duration   time.Duration `json:"duration"`
	Failures   []Failure     `json:"failures,omitempty"`
}

// Status derives the outcome: any error beats an assertion failure, which beats a skip.
func (r *Result) Status() Status {
	status := StatusPass
	for _, f := range r.Failures {
		switch f.Kind {
		case KindError:
			return StatusError
		case KindAssertion:
			status = StatusFail
		case KindSkip:
			if status == StatusPass {
				status = StatusSkip
			}
		}
	}
	return status
}

// Passed reports whether the method ran without failures or skips.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Name is "Class#method".
func (r *Result) Name() string { return r.Class + "#" + r.Method }
