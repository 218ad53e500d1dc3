package turn

import (
	"errors"
	"fmt"
)

var (
	// ErrMultipleToolCalls is returned when a second tool call starts in a
	// turn that already has one open. Only one call per turn is supported.
	ErrMultipleToolCalls = errors.New("multiple tool calls in one turn are not supported")

	// ErrToolCallHeader is returned when tool call arguments arrive before
	// the call's name.
	ErrToolCallHeader = errors.New("tool call arguments before tool call header")

	// ErrNoToolCall is returned when the stream finishes with tool_calls but
	// no tool call was opened.
	ErrNoToolCall = errors.New("finish reason tool_calls without a tool call")

	// ErrIncompleteStream is returned when the stream ends without a finish
	// reason.
	ErrIncompleteStream = errors.New("stream ended without a finish reason")
)

// MalformedToolArgumentsError is returned when the accumulated arguments of
// a closed tool call are not a JSON object. It is not retryable: the same
// stream yields the same buffer.
type MalformedToolArgumentsError struct {
	CallID    string
	Name      string
	Arguments string
	Err       error
}

func (e *MalformedToolArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for tool call %s (%s): %v", e.CallID, e.Name, e.Err)
}

func (e *MalformedToolArgumentsError) Unwrap() error { return e.Err }
