package turn

import "encoding/json"

// EventType names one kind of stream event.
type EventType string

const (
	ReasoningDelta   EventType = "reasoning_delta"
	ContentDelta     EventType = "content_delta"
	ToolCallOpened   EventType = "tool_call_opened"
	ToolCallArgDelta EventType = "tool_call_arg_delta"
	ToolCallClosed   EventType = "tool_call_closed"
	ToolResult       EventType = "tool_result"
	TurnFinished     EventType = "turn_finished"
)

// Event is one item of the externally visible output sequence.
//
// Text carries the delta for ReasoningDelta, ContentDelta and
// ToolCallArgDelta, and the result content for ToolResult. Name and CallID
// identify the tool call for the ToolCall* and ToolResult events.
type Event struct {
	Type      EventType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}
