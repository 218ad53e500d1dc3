package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a completed tool invocation requested by the model.
// Arguments is the accumulated argument text, kept verbatim.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a conversation transcript.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// IsError marks a tool result that carries a backend failure.
	IsError bool `json:"is_error,omitempty"`
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// AssistantToolCall is an assistant message that requests one tool call,
// with any visible text produced before it.
func AssistantToolCall(text string, call ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: []ToolCall{call}}
}

func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}

func ToolErrorMessage(callID, reason string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: reason, IsError: true}
}

// Validate checks the shape of a message for its role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleSystem:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("%s message cannot carry tool call data", m.Role)
		}
	case RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return errors.New("assistant message needs text or a tool call")
		}
		for _, call := range m.ToolCalls {
			if call.ID == "" || call.Name == "" {
				return errors.New("assistant tool call needs an id and a name")
			}
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return errors.New("tool message needs a tool_call_id")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// ToolDefinition is a capability as presented to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one streaming completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// ToolCallDelta is the tool-call part of one fragment. The first delta of
// a call usually carries ID and Name; later ones carry argument text.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Finish reasons reported by the endpoint.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// Fragment is one incremental piece of a completion stream. Any field may
// be empty.
type Fragment struct {
	Reasoning    string
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// FragmentStream is a pull iterator over fragments. Next returns io.EOF
// when the stream is exhausted. Close releases the underlying connection
// and may be called at any time.
type FragmentStream interface {
	Next() (Fragment, error)
	Close() error
}

// Endpoint opens streaming completions.
type Endpoint interface {
	Stream(ctx context.Context, request Request) (FragmentStream, error)
}

// ProviderError is returned when the model API responds with an error.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true for HTTP 429 responses.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429
}
