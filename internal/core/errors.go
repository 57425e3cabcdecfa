package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors surfaced to protocol clients.
type ErrorCode string

const (
	// ErrCodeProtocol marks a malformed or out-of-state message. The
	// connection stays open.
	ErrCodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// ErrCodeIntegrity marks a tell whose shape does not match the
	// experiment's declared cardinality. The trial is not recorded.
	ErrCodeIntegrity ErrorCode = "INTEGRITY_ERROR"

	// ErrCodeStore marks a persistence failure. Fatal to the session.
	ErrCodeStore ErrorCode = "STORE_ERROR"

	// ErrCodeStrategy marks a candidate generation failure. The ask may
	// be retried.
	ErrCodeStrategy ErrorCode = "STRATEGY_ERROR"

	// ErrCodeUnsupportedVersion marks a versioned request with an unknown
	// protocol version.
	ErrCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
)

// Error is the error type shared by the store, the sequencer and the
// dispatcher. Code drives both the client reply and session handling.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ExperimentID identifies the affected experiment, if any.
	ExperimentID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ExperimentID != "" {
		msg = fmt.Sprintf("%s (experiment=%s)", msg, e.ExperimentID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewProtocolError creates an Error for a malformed or out-of-state message.
func NewProtocolError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeProtocol, Message: fmt.Sprintf(format, args...)}
}

// NewIntegrityError creates an Error for a shape mismatch.
func NewIntegrityError(experimentID, format string, args ...any) *Error {
	return &Error{Code: ErrCodeIntegrity, Message: fmt.Sprintf(format, args...), ExperimentID: experimentID}
}

// NewStoreError wraps a persistence failure.
func NewStoreError(experimentID, op string, err error) *Error {
	return &Error{Code: ErrCodeStore, Message: op, ExperimentID: experimentID, Err: err}
}

// NewStrategyError wraps a candidate generation failure.
func NewStrategyError(strategy string, err error) *Error {
	return &Error{Code: ErrCodeStrategy, Message: fmt.Sprintf("strategy %q failed", strategy), Err: err}
}

// NewUnsupportedVersionError creates an Error for an unknown protocol version.
func NewUnsupportedVersionError(version string, supported []string) *Error {
	return &Error{
		Code:    ErrCodeUnsupportedVersion,
		Message: fmt.Sprintf("unsupported version %q (supported: %v)", version, supported),
	}
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsProtocolError reports whether err is a protocol error.
func IsProtocolError(err error) bool { return CodeOf(err) == ErrCodeProtocol }

// IsIntegrityError reports whether err is an integrity error.
func IsIntegrityError(err error) bool { return CodeOf(err) == ErrCodeIntegrity }

// IsStoreError reports whether err is a store error.
func IsStoreError(err error) bool { return CodeOf(err) == ErrCodeStore }

// IsStrategyError reports whether err is a strategy error.
func IsStrategyError(err error) bool { return CodeOf(err) == ErrCodeStrategy }

// IsUnsupportedVersionError reports whether err is an unsupported version error.
func IsUnsupportedVersionError(err error) bool {
	return CodeOf(err) == ErrCodeUnsupportedVersion
}

// Reply converts err into the payload sent to clients. Errors that are not
// an *Error are reported as protocol errors.
func Reply(err error) ErrorReply {
	code := CodeOf(err)
	if code == "" {
		code = ErrCodeProtocol
	}
	return ErrorReply{Error: ErrorBody{Code: code, Message: err.Error()}}
}
