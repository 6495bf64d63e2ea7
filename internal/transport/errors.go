package transport

import (
	"errors"
	"fmt"
)

// ErrConnection is the connection-error kind. Peers that refuse a value they
// cannot reconstruct report it with this error as well.
var ErrConnection = errors.New("transport: connection error")

// ErrNotExportable is returned by Export for values that cannot be given a handle.
var ErrNotExportable = errors.New("transport: value cannot be exported")

// IsConnection reports whether err is (or wraps) ErrConnection.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

func connError(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConnection, cause)
}

// UnknownError marks a value that arrived but could not be rebuilt.
type UnknownError struct {
	Kind    string
	Message string
	Cause   string
}

func (e *UnknownError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("transport: cannot reconstruct %s value %q: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport: cannot reconstruct %s value %q", e.Kind, e.Message)
}

// IsUnknown reports whether err is (or wraps) an *UnknownError.
func IsUnknown(err error) bool {
	var u *UnknownError
	return errors.As(err, &u)
}

// RemoteError carries only the description of an error raised elsewhere.
// It is registered by default so it is always reconstructible.
type RemoteError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewRemoteError wraps err as a description-only value. RemoteErrors are returned as-is.
func NewRemoteError(err error) *RemoteError {
	if re, ok := err.(*RemoteError); ok {
		return re
	}
	return &RemoteError{Kind: KindOf(err), Message: err.Error()}
}

func (e *RemoteError) Error() string { return e.Message }
