package queue

import (
	"errors"

	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

// Job is one test method to run, addressed to a reporter in this process.
type Job struct {
	Class    string
	Method   string
	Reporter suite.Reporter
}

var (
	ErrClosed          = errors.New("queue closed")
	ErrUnknownReporter = errors.New("unknown reporter handle")
)

// Exporter maps local objects to handles and back. *transport.Service implements it.
type Exporter interface {
	URI() string
	Export(obj any) (transport.Handle, error)
	Resolve(h transport.Handle) (any, bool)
}
