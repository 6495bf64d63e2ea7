package queue

import (
	"github.com/mattjoyce/forkpool/internal/protocol"
	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

// Endpoint exposes a Server to workers as the "Queue" RPC receiver.
type Endpoint struct {
	server *Server
}

// NewEndpoint wraps s for registration with a transport.Service.
func NewEndpoint(s *Server) *Endpoint {
	return &Endpoint{server: s}
}

// Pop serves protocol.MethodPop. It blocks until work is available.
func (e *Endpoint) Pop(args protocol.PopArgs, reply *protocol.Item) error {
	it, err := e.server.Pop()
	if err != nil {
		return err
	}
	e.server.logger.Debug("item handed out", "worker", args.Worker, "stop", it.IsStop())
	*reply = it
	return nil
}

// Record serves protocol.MethodRecord.
func (e *Endpoint) Record(args protocol.RecordArgs, _ *protocol.Ack) error {
	return e.server.Record(args.Reporter, args.Result)
}

// ReporterEndpoint lets other processes record into reporters exported by a
// service, as the "Reporter" RPC receiver.
type ReporterEndpoint struct {
	exporter Exporter
}

// NewReporterEndpoint serves reporters resolved through exporter.
func NewReporterEndpoint(exporter Exporter) *ReporterEndpoint {
	return &ReporterEndpoint{exporter: exporter}
}

// Record serves protocol.MethodReporterRecord. The result is recorded under
// the reporter's own lock on this side.
func (e *ReporterEndpoint) Record(args protocol.RecordArgs, _ *protocol.Ack) error {
	result, err := protocol.DecodeResult(args.Result)
	if err != nil {
		if transport.IsUnknown(err) {
			return transport.ErrConnection
		}
		return err
	}
	obj, ok := e.exporter.Resolve(args.Reporter)
	if !ok {
		return ErrUnknownReporter
	}
	reporter, ok := obj.(suite.Reporter)
	if !ok {
		return ErrUnknownReporter
	}
	reporter.Synchronize(func() {
		reporter.Record(result)
	})
	return nil
}
