package coordinator

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("CoordinatorError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new coordinator error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf extracts the return code from an error. The boolean return value
// indicates whether the error is a coordinator error.
func CodeOf(err error) (RetCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

// RetCode classifies why a coordinated operation failed.
type RetCode uint8

const (
	// RetCInsufficientQuorum: fewer than W (writes) or R (reads) replicas
	// acknowledged before the operation deadline.
	RetCInsufficientQuorum RetCode = iota + 1
	// RetCTimeout: the operation deadline expired before enough replicas
	// answered at all.
	RetCTimeout
	// RetCStaleWriteRejected: every acknowledging replica reported the
	// write's version as dominated. The client wrote with an outdated
	// context vector.
	RetCStaleWriteRejected
	// RetCRingInconsistent: replicas kept answering with a diverged ring
	// epoch even after a snapshot refresh and retry.
	RetCRingInconsistent
	// RetCInternal: unexpected local failure (codec, storage).
	RetCInternal
)

// String returns the string representation of a RetCode.
func (c RetCode) String() string {
	switch c {
	case RetCInsufficientQuorum:
		return "InsufficientQuorum"
	case RetCTimeout:
		return "Timeout"
	case RetCStaleWriteRejected:
		return "StaleWriteRejected"
	case RetCRingInconsistent:
		return "RingInconsistent"
	case RetCInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}
