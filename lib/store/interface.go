package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the public key-value contract of the storage engine. Higher layers
// treat it as an opaque store: routing, caching and coherence are hidden.
//
// Values are JSON. Set encodes any JSON-serializable value (a json.RawMessage
// is stored verbatim); Get returns the JSON text. Use GetAs and SetAs for typed
// access. Errors returned by implementations are *Error values.
type IStore interface {
	// Get returns the JSON value for key. The boolean return value indicates
	// whether a value for the key was found.
	Get(ctx context.Context, key string) (value []byte, loaded bool, err error)
	// Set stores value for key, replacing any previous value.
	Set(ctx context.Context, key string, value any) (err error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) (err error)
	// Keys returns every stored key, sorted and without duplicates.
	Keys(ctx context.Context) (keys []string, err error)
	// Clear removes every key.
	Clear(ctx context.Context) (err error)
}

// GetAs reads key and decodes it into a T.
func GetAs[T any](ctx context.Context, s IStore, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, WrapError(RetCInvalidOperation, fmt.Errorf("decode %q: %w", key, err))
	}
	return out, true, nil
}

// SetAs stores value for key.
func SetAs[T any](ctx context.Context, s IStore, key string, value T) error {
	return s.Set(ctx, key, value)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. If it was created from another error, errors.Is and
// errors.As reach that error through Unwrap.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The wrapped error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code wrapping err.
func WrapError(code RetCode, err error) *Error {
	return &Error{
		Code: code,
		Msg:  err.Error(),
		Err:  err,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCUnavailable                     // 2: No storage tier could serve the command.
	RetCInvalidOperation                // 3: Invalid operation, e.g. a value that cannot be encoded.
	RetCClosed                          // 4: The store was shut down.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnavailable:
		return "Unavailable"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
