package channel

import (
	"fmt"
)

// ErrorKind represents the category of channel error that occurred
type ErrorKind int

const (
	// KindConnection indicates a transport-level failure (broker publish
	// failed, TCP connection refused or lost)
	KindConnection ErrorKind = iota
	// KindTimeout indicates the device did not reply within the deadline
	KindTimeout
	// KindDuplicateRequest indicates the request id collided with an
	// in-flight command
	KindDuplicateRequest
	// KindInvalidRequest indicates the message could not be sent as built
	// (missing request id, encode failure)
	KindInvalidRequest
	// KindDecode indicates inbound bytes could not be decoded
	KindDecode
	// KindSession indicates the channel or its session was closed while a
	// command was in flight
	KindSession
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "Connection Error"
	case KindTimeout:
		return "Timeout"
	case KindDuplicateRequest:
		return "Duplicate Request"
	case KindInvalidRequest:
		return "Invalid Request"
	case KindDecode:
		return "Decode Error"
	case KindSession:
		return "Session Error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error represents a failure while exchanging messages with a device
type Error struct {
	Kind      ErrorKind // Category of error
	Message   string    // Human-readable error message
	RequestID int       // Correlation id of the affected command (if any)
	Err       error     // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a transport-level error
func NewConnectionError(message string, err error) *Error {
	return &Error{Kind: KindConnection, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error for the given request id
func NewTimeoutError(requestID int) *Error {
	return &Error{
		Kind:      KindTimeout,
		Message:   fmt.Sprintf("no reply to request %d within deadline", requestID),
		RequestID: requestID,
	}
}

// NewDuplicateRequestError creates a duplicate request id error
func NewDuplicateRequestError(requestID int) *Error {
	return &Error{
		Kind:      KindDuplicateRequest,
		Message:   fmt.Sprintf("request id %d already in flight", requestID),
		RequestID: requestID,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string, err error) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message, Err: err}
}

// NewSessionError creates a session error
func NewSessionError(message string, err error) *Error {
	return &Error{Kind: KindSession, Message: message, Err: err}
}

// IsTimeout checks if an error is a channel timeout
func IsTimeout(err error) bool {
	if chErr, ok := err.(*Error); ok {
		return chErr.Kind == KindTimeout
	}
	return false
}

// IsConnectionError checks if an error is a transport-level failure
func IsConnectionError(err error) bool {
	if chErr, ok := err.(*Error); ok {
		return chErr.Kind == KindConnection
	}
	return false
}

// IsDuplicateRequest checks if an error is a request id collision
func IsDuplicateRequest(err error) bool {
	if chErr, ok := err.(*Error); ok {
		return chErr.Kind == KindDuplicateRequest
	}
	return false
}
