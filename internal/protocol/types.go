package protocol

import (
	"encoding/json"

	"github.com/mattjoyce/forkpool/internal/transport"
)

// Version is the wire version stamped on every result envelope.
const Version = 1

// RPC method names served by the parent process.
const (
	MethodPop            = "Queue.Pop"
	MethodRecord         = "Queue.Record"
	MethodReporterRecord = "Reporter.Record"
)

// Batch is a run of methods of one test class, reported to one reporter.
type Batch struct {
	Class    string           `json:"class"`
	Methods  []string         `json:"methods"`
	Reporter transport.Handle `json:"reporter"`
}

// Item is one queue entry: a batch, or a stop marker.
type Item struct {
	Stop  bool   `json:"stop,omitempty"`
	Batch *Batch `json:"batch,omitempty"`
}

// IsStop reports whether the item ends a worker's loop.
func (i Item) IsStop() bool { return i.Stop || i.Batch == nil }

// PopArgs identifies the worker asking for work.
type PopArgs struct {
	Worker int `json:"worker"`
}

// RecordArgs delivers one encoded result to a reporter.
type RecordArgs struct {
	Worker   int              `json:"worker"`
	Reporter transport.Handle `json:"reporter"`
	Result   json.RawMessage  `json:"result"`
}

// Ack is the empty reply.
type Ack struct{}

// ResultEnvelope wraps an encoded suite.Result with its wire version.
type ResultEnvelope struct {
	Protocol int             `json:"protocol"`
	Result   json.RawMessage `json:"result"`
}
