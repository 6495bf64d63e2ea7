package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mattjoyce/forkpool/internal/log"
	"github.com/mattjoyce/forkpool/internal/protocol"
	"github.com/mattjoyce/forkpool/internal/suite"
	"github.com/mattjoyce/forkpool/internal/transport"
)

// Client is the worker-side view of a remote Server.
type Client struct {
	rpc    *transport.Client
	worker int
}

// NewClient talks to the queue served on c on behalf of worker.
func NewClient(c *transport.Client, worker int) *Client {
	return &Client{rpc: c, worker: worker}
}

// Pop blocks until the server hands out a batch or a stop marker.
func (c *Client) Pop(ctx context.Context) (protocol.Item, error) {
	var it protocol.Item
	if err := c.rpc.Call(ctx, protocol.MethodPop, protocol.PopArgs{Worker: c.worker}, &it); err != nil {
		return protocol.Item{}, err
	}
	return it, nil
}

// Record sends one result to the reporter behind h.
func (c *Client) Record(ctx context.Context, h transport.Handle, result *suite.Result) error {
	raw, err := protocol.EncodeResult(result)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}
	args := protocol.RecordArgs{Worker: c.worker, Reporter: h, Result: raw}
	return c.rpc.Call(ctx, protocol.MethodRecord, args, &protocol.Ack{})
}

// RemoteReporter is a suite.Reporter living in another process.
// Record forwards to the owning service, which applies that reporter's lock;
// Synchronize only serializes callers inside this process.
type RemoteReporter struct {
	rpc    *transport.Client
	handle transport.Handle
	mu     sync.Mutex
}

// NewRemoteReporter proxies the reporter behind h over c.
func NewRemoteReporter(c *transport.Client, h transport.Handle) *RemoteReporter {
	return &RemoteReporter{rpc: c, handle: h}
}

// Handle returns the address of the proxied reporter.
func (r *RemoteReporter) Handle() transport.Handle { return r.handle }

// Deliver sends an encoded result to the owning service. A refusal or a lost
// connection comes back wrapping transport.ErrConnection.
func (r *RemoteReporter) Deliver(ctx context.Context, raw json.RawMessage) error {
	args := protocol.RecordArgs{Reporter: r.handle, Result: raw}
	return r.rpc.Call(ctx, protocol.MethodReporterRecord, args, &protocol.Ack{})
}

// Record only logs a failed delivery; Deliver returns it.
func (r *RemoteReporter) Record(result *suite.Result) {
	raw, err := protocol.EncodeResult(result)
	if err == nil {
		err = r.Deliver(context.Background(), raw)
	}
	if err != nil {
		log.WithComponent("queue").Error("remote record failed", "reporter", r.handle.String(), "test", result.Name(), "error", err)
	}
}

func (r *RemoteReporter) Synchronize(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}
