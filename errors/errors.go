// Package errors defines the error taxonomy for the liquid-staking engine.
//
// All engine errors are represented as LSTError, which provides:
//   - Code: Machine-readable error identifier
//   - Message: Human-readable error description
//   - Layer: Which component layer produced the error (engine, store, host, client)
//   - Cause: Underlying error, if any
//   - Context: Additional error details (owner, token id, chain id, etc.)
//
// Validation failures abort an operation or message before any state is committed,
// so callers observe a failed operation as not having happened. Nothing in this
// module retries on its own; retrying is left to clients.
//
// Use the provided constructor functions (NewEngineError, NewStoreError, etc.)
// to create properly typed errors with automatic layer assignment.
package errors

import "fmt"

// Code is a machine-readable error identifier.
type Code string

// Error codes - Engine Layer
const (
	INVALID_AMOUNT       Code = "INVALID_AMOUNT"
	UNAPPROVED_TOKEN     Code = "UNAPPROVED_TOKEN"
	NO_STAKE             Code = "NO_STAKE"
	INSUFFICIENT_BALANCE Code = "INSUFFICIENT_BALANCE"
	OVERFLOW             Code = "OVERFLOW"
	RESERVE_EXHAUSTED    Code = "RESERVE_EXHAUSTED"
	PROTOCOL_VIOLATION   Code = "PROTOCOL_VIOLATION"
	EXTERNAL_CALL_FAILED Code = "EXTERNAL_CALL_FAILED"
	UNAUTHORIZED         Code = "UNAUTHORIZED"
	INVALID_OWNER        Code = "INVALID_OWNER"
	UNKNOWN_KIND         Code = "UNKNOWN_KIND"
)

// Error codes - Store Layer
const (
	STORE_ERROR Code = "STORE_ERROR"
	CODEC_ERROR Code = "CODEC_ERROR"
	NOT_FOUND   Code = "NOT_FOUND"
)

// Error codes - Host Layer
const (
	CONFIG_INVALID     Code = "CONFIG_INVALID"
	TRANSITION_INVALID Code = "TRANSITION_INVALID"
	RATE_LIMITED       Code = "RATE_LIMITED"
)

// Error codes - Client Layer
const (
	NETWORK_ERROR Code = "NETWORK_ERROR"
	SUBMIT_FAILED Code = "SUBMIT_FAILED"
)

// Sentinel errors for use with errors.Is. Matching is by code only.
var (
	ErrInvalidAmount       = &LSTError{Code: INVALID_AMOUNT}
	ErrUnapprovedToken     = &LSTError{Code: UNAPPROVED_TOKEN}
	ErrNoStake             = &LSTError{Code: NO_STAKE}
	ErrInsufficientBalance = &LSTError{Code: INSUFFICIENT_BALANCE}
	ErrOverflow            = &LSTError{Code: OVERFLOW}
	ErrReserveExhausted    = &LSTError{Code: RESERVE_EXHAUSTED}
	ErrProtocolViolation   = &LSTError{Code: PROTOCOL_VIOLATION}
	ErrExternalCallFailed  = &LSTError{Code: EXTERNAL_CALL_FAILED}
	ErrUnauthorized        = &LSTError{Code: UNAUTHORIZED}
	ErrInvalidOwner        = &LSTError{Code: INVALID_OWNER}
	ErrRateLimited         = &LSTError{Code: RATE_LIMITED}
	ErrConfigInvalid       = &LSTError{Code: CONFIG_INVALID}
	ErrNotFound            = &LSTError{Code: NOT_FOUND}
	ErrTransitionInvalid   = &LSTError{Code: TRANSITION_INVALID}
)

// LSTError is the base error type for all engine errors.
type LSTError struct {
	Code    Code
	Message string
	Layer   string // "engine", "store", "host", "client"
	Cause   error
	Context map[string]any
}

// Error returns a formatted error string.
func (e *LSTError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Layer, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error, enabling error chain inspection.
func (e *LSTError) Unwrap() error {
	return e.Cause
}

// With attaches a context value and returns the receiver for chaining.
func (e *LSTError) With(key string, value any) *LSTError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(layer string, code Code, message string, cause error) *LSTError {
	return &LSTError{
		Code:    code,
		Message: message,
		Layer:   layer,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// NewEngineError creates an engine layer error.
func NewEngineError(code Code, message string, cause error) *LSTError {
	return newError("engine", code, message, cause)
}

// NewStoreError creates a store layer error.
func NewStoreError(code Code, message string, cause error) *LSTError {
	return newError("store", code, message, cause)
}

// NewHostError creates a host layer error.
func NewHostError(code Code, message string, cause error) *LSTError {
	return newError("host", code, message, cause)
}

// NewClientError creates a client layer error.
func NewClientError(code Code, message string, cause error) *LSTError {
	return newError("client", code, message, cause)
}

// Is checks if the target error is an LSTError with the same code.
func (e *LSTError) Is(target error) bool {
	if target == nil {
		return false
	}
	other, ok := target.(*LSTError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// As checks if target is an LSTError and assigns it.
func As(err error, target **LSTError) bool {
	for err != nil {
		if v, ok := err.(*LSTError); ok {
			*target = v
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the code of the first LSTError in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *LSTError
	if As(err, &e) {
		return e.Code
	}
	return ""
}
