package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type used for per-connection failures. It wraps a
// return code (of type RetCode) and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("HubError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// HasCode reports whether err is (or wraps) an Error with the given code.
func HasCode(err error, code RetCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: No error.
	RetCInternalError                   // 1: Unexpected internal failure.
	RetCMalformedMessage                // 2: Codec decode failure; fatal to the one connection.
	RetCUnknownRoom                     // 3: Connection bound to a room that cannot be resolved.
	RetCSlowConsumer                    // 4: Outbound queue overflow; recoverable by reconnect+resync.
)

// String returns the string representation of a RetCode.
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCMalformedMessage:
		return "MalformedMessage"
	case RetCUnknownRoom:
		return "UnknownRoom"
	case RetCSlowConsumer:
		return "SlowConsumerDropped"
	default:
		return "Unknown"
	}
}
