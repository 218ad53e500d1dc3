package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend connections. Use errors.Is to check.
var (
	// ErrBackendUnavailable means the backend process could not be started,
	// did not complete the handshake, or went away.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTimeout means a backend did not answer within the configured bound.
	ErrTimeout = errors.New("backend call timed out")
)

// ProtocolError is returned when a backend response does not conform to
// the expected schema.
type ProtocolError struct {
	Backend string
	Method  string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp %s: malformed %s response: %v", e.Backend, e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvocationError is returned when a backend executed a call but reported
// failure, either as a JSON-RPC error object or as a result flagged isError.
type InvocationError struct {
	Backend    string
	Capability string

	// Code is the JSON-RPC error code, zero for isError results.
	Code int

	// Reason is the error message or the flattened text of the error result.
	Reason string

	// Reported is true when the failure came back as a tool result with
	// isError set rather than as a JSON-RPC error. Such failures can be
	// shown to the model as a tool result.
	Reported bool
}

func (e *InvocationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mcp %s: %s failed (code %d): %s", e.Backend, e.Capability, e.Code, e.Reason)
	}
	return fmt.Sprintf("mcp %s: %s failed: %s", e.Backend, e.Capability, e.Reason)
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsInvocationError returns true if err is or wraps an InvocationError.
func IsInvocationError(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie)
}

func unavailable(backend string, format string, args ...any) error {
	return fmt.Errorf("mcp %s: %w: %s", backend, ErrBackendUnavailable, fmt.Sprintf(format, args...))
}
