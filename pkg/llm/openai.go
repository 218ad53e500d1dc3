package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// wireSeparator replaces the qualified-name separator in function names
// sent to the API, which only accepts [a-zA-Z0-9_-].
const wireSeparator = "__"

// OpenAI streams completions from any API that speaks the Chat
// Completions wire format (OpenAI, OpenRouter, vLLM, Ollama, LM Studio).
type OpenAI struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	headers     map[string]string
	maxTokens   int
	temperature *float64
}

// OpenAIOption configures an OpenAI endpoint.
type OpenAIOption func(*OpenAI)

func WithBaseURL(url string) OpenAIOption {
	return func(o *OpenAI) {
		if url != "" {
			o.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.client = client
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) OpenAIOption {
	return func(o *OpenAI) { o.headers[key] = value }
}

// WithMaxTokens sets the default max_tokens when a request leaves it zero.
func WithMaxTokens(n int) OpenAIOption {
	return func(o *OpenAI) { o.maxTokens = n }
}

// WithTemperature sets the default temperature when a request leaves it nil.
func WithTemperature(t float64) OpenAIOption {
	return func(o *OpenAI) { o.temperature = &t }
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		apiKey:  apiKey,
		baseURL: DefaultOpenAIBaseURL,
		client:  &http.Client{},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OpenAI API structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// Streaming structures
type openAIStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Role             string           `json:"role,omitempty"`
	Content          *string          `json:"content,omitempty"`
	ReasoningContent *string          `json:"reasoning_content,omitempty"`
	Reasoning        *string          `json:"reasoning,omitempty"`
	Refusal          *string          `json:"refusal,omitempty"`
	ToolCalls        []openAIToolCall `json:"tool_calls,omitempty"`
}

// Stream sends a streaming chat completion request.
func (c *OpenAI) Stream(ctx context.Context, request Request) (FragmentStream, error) {
	wire, names, err := c.buildRequest(request)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readProviderError(resp)
	}

	return &openAIStream{
		body:    resp.Body,
		scanner: NewSSEScanner(resp.Body),
		names:   names,
	}, nil
}

// buildRequest converts a Request to the wire format. It also returns the
// mapping between qualified tool names and wire function names.
func (c *OpenAI) buildRequest(request Request) (openAIRequest, *toolNames, error) {
	names, err := newToolNames(request.Tools)
	if err != nil {
		return openAIRequest{}, nil, err
	}

	wire := openAIRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		Stream:      true,
	}
	if wire.MaxTokens == 0 {
		wire.MaxTokens = c.maxTokens
	}
	if wire.Temperature == nil {
		wire.Temperature = c.temperature
	}

	if request.System != "" {
		wire.Messages = append(wire.Messages, openAIMessage{Role: string(RoleSystem), Content: &request.System})
	}
	for _, msg := range request.Messages {
		wire.Messages = append(wire.Messages, toOpenAIMessage(msg, names))
	}

	for _, tool := range request.Tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wire.Tools = append(wire.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        names.wire(tool.Name),
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return wire, names, nil
}

func toOpenAIMessage(msg Message, names *toolNames) openAIMessage {
	content := msg.Content
	apiMsg := openAIMessage{Role: string(msg.Role), Content: &content}

	switch msg.Role {
	case RoleAssistant:
		if content == "" && len(msg.ToolCalls) > 0 {
			apiMsg.Content = nil
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      names.wire(tc.Name),
					Arguments: args,
				},
			})
		}
	case RoleTool:
		apiMsg.ToolCallID = msg.ToolCallID
		if msg.IsError {
			errText := "Error: " + content
			apiMsg.Content = &errText
		}
	}
	return apiMsg
}

func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wireError struct {
		Error openAIError `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// openAIStream turns SSE chunks into fragments. Only the first choice is
// read. Close may be called from another goroutine while Next blocks.
type openAIStream struct {
	body    io.ReadCloser
	scanner *SSEScanner
	names   *toolNames
	done    atomic.Bool
}

func (s *openAIStream) Next() (Fragment, error) {
	for {
		if s.done.Load() || !s.scanner.Next() {
			s.done.Store(true)
			if err := s.scanner.Err(); err != nil {
				return Fragment{}, fmt.Errorf("reading stream: %w", err)
			}
			return Fragment{}, io.EOF
		}

		data := s.scanner.Event().Data
		if data == "[DONE]" {
			s.done.Store(true)
			return Fragment{}, io.EOF
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return Fragment{}, fmt.Errorf("parsing stream chunk: %w", err)
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return Fragment{}, &ProviderError{StatusCode: http.StatusOK, Type: chunk.Error.Type, Message: chunk.Error.Message}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		fragment := s.toFragment(chunk.Choices[0])
		if fragment.empty() {
			continue
		}
		return fragment, nil
	}
}

func (s *openAIStream) toFragment(choice openAIStreamChoice) Fragment {
	var f Fragment
	delta := choice.Delta

	switch {
	case delta.ReasoningContent != nil:
		f.Reasoning = *delta.ReasoningContent
	case delta.Reasoning != nil:
		f.Reasoning = *delta.Reasoning
	}
	if delta.Content != nil {
		f.Content = *delta.Content
	}
	if delta.Refusal != nil {
		f.Content += *delta.Refusal
	}
	for i, tc := range delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		name := tc.Function.Name
		if name != "" {
			name = s.names.qualified(name)
		}
		f.ToolCalls = append(f.ToolCalls, ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Name:      name,
			Arguments: tc.Function.Arguments,
		})
	}
	if choice.FinishReason != nil {
		f.FinishReason = *choice.FinishReason
	}
	return f
}

func (f Fragment) empty() bool {
	return f.Reasoning == "" && f.Content == "" && len(f.ToolCalls) == 0 && f.FinishReason == ""
}

func (s *openAIStream) Close() error {
	s.done.Store(true)
	return s.body.Close()
}
