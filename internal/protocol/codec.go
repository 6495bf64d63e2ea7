package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattjoyce/forkpool/internal/suite"
)

// EncodeResult serializes a result for RecordArgs.
// Error values inside it are carried as transport envelopes, so encoding
// succeeds even when the receiver will not be able to rebuild them.
func EncodeResult(r *suite.Result) (json.RawMessage, error) {
	if r == nil {
		return nil, errors.New("result is nil")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	env, err := json.Marshal(ResultEnvelope{Protocol: Version, Result: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result envelope: %w", err)
	}
	return env, nil
}

// DecodeResult rebuilds a result. When an embedded error cannot be rebuilt in
// this process the returned error wraps a *transport.UnknownError.
func DecodeResult(raw json.RawMessage) (*suite.Result, error) {
	if len(raw) == 0 {
		return nil, errors.New("result is empty")
	}

	var env ResultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode result envelope: %w", err)
	}
	if env.Protocol != Version {
		return nil, fmt.Errorf("unsupported protocol version: %d", env.Protocol)
	}

	var r suite.Result
	if err := json.Unmarshal(env.Result, &r); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if r.Class == "" || r.Method == "" {
		return nil, fmt.Errorf("result missing required field: class/method")
	}
	return &r, nil
}
