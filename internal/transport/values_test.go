package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registeredErr struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

func (e *registeredErr) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Text) }

type unregisteredErr struct{ Detail string }

func (e unregisteredErr) Error() string { return "unregistered: " + e.Detail }

type funcErr struct{ Fn func() }

func (funcErr) Error() string { return "holds a func" }

func init() {
	RegisterError(&registeredErr{})
}

func roundTrip(t *testing.T, err error) (error, error) {
	t.Helper()
	data, merr := json.Marshal(EncodeError(err))
	require.NoError(t, merr)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return DecodeError(env)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "*errors.errorString", KindOf(errors.New("x")))
	assert.Equal(t, "*github.com/mattjoyce/forkpool/internal/transport.registeredErr", KindOf(&registeredErr{}))
	assert.Equal(t, "github.com/mattjoyce/forkpool/internal/transport.unregisteredErr", KindOf(unregisteredErr{}))
	assert.Equal(t, "", KindOf(nil))
}

func TestDecodeError_RegisteredKind(t *testing.T) {
	got, err := roundTrip(t, &registeredErr{Code: 7, Text: "boom"})
	require.NoError(t, err)

	var re *registeredErr
	require.ErrorAs(t, got, &re)
	assert.Equal(t, 7, re.Code)
	assert.Equal(t, "boom", re.Text)
}

func TestDecodeError_BuiltinKindsKeepMessage(t *testing.T) {
	for _, in := range []error{
		errors.New("plain"),
		fmt.Errorf("wrapped: %w", errors.New("inner")),
		fmt.Errorf("two: %w %w", errors.New("a"), errors.New("b")),
	} {
		got, err := roundTrip(t, in)
		require.NoError(t, err, "kind %s", KindOf(in))
		assert.Equal(t, in.Error(), got.Error())
	}
}

func TestDecodeError_UnregisteredKindIsUnknown(t *testing.T) {
	got, err := roundTrip(t, unregisteredErr{Detail: "lost"})
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, IsUnknown(err))

	var u *UnknownError
	require.ErrorAs(t, err, &u)
	assert.Equal(t, "unregistered: lost", u.Message)
	assert.Contains(t, u.Error(), "kind not registered")
}

func TestEncodeError_UnmarshalableValueIsOpaque(t *testing.T) {
	env := EncodeError(funcErr{Fn: func() {}})
	assert.True(t, env.Opaque)
	assert.Equal(t, "holds a func", env.Message)

	_, err := DecodeError(env)
	assert.True(t, IsUnknown(err))
}

func TestRemoteErrorAlwaysDecodes(t *testing.T) {
	wrapped := NewRemoteError(unregisteredErr{Detail: "x"})
	assert.Equal(t, KindOf(unregisteredErr{}), wrapped.Kind)
	assert.Equal(t, "unregistered: x", wrapped.Error())
	assert.Same(t, wrapped, NewRemoteError(wrapped))

	got, err := roundTrip(t, wrapped)
	require.NoError(t, err)
	var re *RemoteError
	require.ErrorAs(t, got, &re)
	assert.Equal(t, *wrapped, *re)
}

func TestIsConnection(t *testing.T) {
	assert.True(t, IsConnection(connError("op", errors.New("eof"))))
	assert.True(t, IsConnection(fmt.Errorf("outer: %w", ErrConnection)))
	assert.False(t, IsConnection(errors.New("other")))
}
