package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrorEnvelope is the wire form of an error value.
type ErrorEnvelope struct {
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Opaque is set when the sender could not marshal the value itself.
	Opaque bool `json:"opaque,omitempty"`
}

// DecodeFunc rebuilds an error of one kind from its message and marshaled data.
type DecodeFunc func(message string, data json.RawMessage) (error, error)

var (
	kindsMu sync.RWMutex
	kinds   = make(map[string]DecodeFunc)
)

func init() {
	messageOnly := func(message string, _ json.RawMessage) (error, error) {
		return errors.New(message), nil
	}
	RegisterErrorFunc(KindOf(errors.New("")), messageOnly)
	RegisterErrorFunc(KindOf(fmt.Errorf("%w", errors.New(""))), messageOnly)
	RegisterErrorFunc(KindOf(fmt.Errorf("%w%w", errors.New(""), errors.New(""))), messageOnly)
	RegisterError(&RemoteError{})
}

// KindOf names the concrete type of err, qualified by package path.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	t := reflect.TypeOf(err)
	prefix := ""
	for t.Kind() == reflect.Pointer {
		prefix += "*"
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return prefix + t.String()
	}
	return prefix + t.PkgPath() + "." + t.Name()
}

// RegisterError makes the concrete type of proto reconstructible from JSON.
// The type's exported fields must round-trip through encoding/json.
func RegisterError(proto error) {
	t := reflect.TypeOf(proto)
	RegisterErrorFunc(KindOf(proto), func(_ string, data json.RawMessage) (error, error) {
		var ptr reflect.Value
		if t.Kind() == reflect.Pointer {
			ptr = reflect.New(t.Elem())
		} else {
			ptr = reflect.New(t)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, ptr.Interface()); err != nil {
				return nil, err
			}
		}
		v := ptr
		if t.Kind() != reflect.Pointer {
			v = ptr.Elem()
		}
		e, ok := v.Interface().(error)
		if !ok {
			return nil, fmt.Errorf("%s does not implement error", t)
		}
		return e, nil
	})
}

// RegisterErrorFunc installs a custom decoder for kind, replacing any previous one.
func RegisterErrorFunc(kind string, fn DecodeFunc) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = fn
}

func lookupKind(kind string) (DecodeFunc, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	fn, ok := kinds[kind]
	return fn, ok
}

// EncodeError captures err for the wire. It never fails: a value that cannot be
// marshaled is sent as an opaque envelope and rejected by the receiver.
func EncodeError(err error) ErrorEnvelope {
	env := ErrorEnvelope{Kind: KindOf(err), Message: err.Error()}
	data, merr := json.Marshal(err)
	if merr != nil {
		env.Opaque = true
		return env
	}
	env.Data = data
	return env
}

// DecodeError rebuilds an error from env. It returns an *UnknownError when the
// kind is not registered here, the value was opaque, or its data is unusable.
func DecodeError(env ErrorEnvelope) (error, error) {
	if env.Opaque {
		return nil, &UnknownError{Kind: env.Kind, Message: env.Message, Cause: "sender could not marshal value"}
	}
	fn, ok := lookupKind(env.Kind)
	if !ok {
		return nil, &UnknownError{Kind: env.Kind, Message: env.Message, Cause: "kind not registered"}
	}
	err, derr := fn(env.Message, env.Data)
	if derr != nil {
		return nil, &UnknownError{Kind: env.Kind, Message: env.Message, Cause: derr.Error()}
	}
	return err, nil
}
