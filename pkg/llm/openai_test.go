package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string, inspect func(r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, stream FragmentStream) []Fragment {
	t.Helper()
	defer stream.Close()
	var out []Fragment
	for {
		f, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestOpenAIStreamFragments(t *testing.T) {
	chunks := []string{
		`{"id":"1","model":"m","choices":[{"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"1","choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
		`{"id":"1","choices":[{"delta":{"content":"Let me add."}}]}`,
		`{"id":"1","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calc__add","arguments":""}}]}}]}`,
		`{"id":"1","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":1,"}}]}}]}`,
		`{"id":"1","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"b\":2}"}}]}}]}`,
		`{"id":"1","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"1","choices":[],"usage":{"prompt_tokens":3}}`,
	}

	requests := make(chan openAIRequest, 1)
	srv := sseServer(t, chunks, func(r *http.Request, body []byte) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		var req openAIRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		requests <- req
	})

	endpoint := NewOpenAI("sk-test", WithBaseURL(srv.URL+"/v1/"), WithHeader("X-Extra", "yes"), WithMaxTokens(512))
	stream, err := endpoint.Stream(context.Background(), Request{
		Model:    "gpt-test",
		System:   "be brief",
		Messages: []Message{UserMessage("1+2?")},
		Tools: []ToolDefinition{{
			Name:        "calc:add",
			Description: "Add",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)

	fragments := collect(t, stream)
	require.Equal(t, []Fragment{
		{Reasoning: "thinking"},
		{Content: "Let me add."},
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "calc:add"}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `{"a":1,`}}},
		{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `"b":2}`}}},
		{FinishReason: FinishToolCalls},
	}, fragments)

	got := <-requests
	assert.True(t, got.Stream)
	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "calc__add", got.Tools[0].Function.Name)
}

func TestOpenAIMessageEncoding(t *testing.T) {
	endpoint := NewOpenAI("")
	wire, _, err := endpoint.buildRequest(Request{
		Model: "m",
		Messages: []Message{
			UserMessage("add"),
			AssistantToolCall("", ToolCall{ID: "1", Name: "calc:add", Arguments: `{"a":1,"b":2}`}),
			ToolResultMessage("1", "3"),
			ToolErrorMessage("2", "boom"),
			AssistantMessage("3"),
		},
	})
	require.NoError(t, err)

	data, err := json.Marshal(wire.Messages)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"user","content":"add"},
		{"role":"assistant","content":null,"tool_calls":[{"id":"1","type":"function","function":{"name":"calc__add","arguments":"{\"a\":1,\"b\":2}"}}]},
		{"role":"tool","content":"3","tool_call_id":"1"},
		{"role":"tool","content":"Error: boom","tool_call_id":"2"},
		{"role":"assistant","content":"3"}
	]`, string(data))
}

func TestOpenAIRefusalAndReasoningAlias(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning":"hmm"}}]}`,
		`{"choices":[{"delta":{"refusal":"I can't"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}, nil)

	stream, err := NewOpenAI("", WithBaseURL(srv.URL)).Stream(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, []Fragment{
		{Reasoning: "hmm"},
		{Content: "I can't"},
		{FinishReason: FinishStop},
	}, collect(t, stream))
}

func TestOpenAIErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"type":"rate_limit","message":"slow down"}}`)
		}))
		defer srv.Close()

		_, err := NewOpenAI("", WithBaseURL(srv.URL)).Stream(context.Background(), Request{Model: "m"})
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.True(t, perr.IsRateLimited())
		assert.Equal(t, "slow down", perr.Message)
	})

	t.Run("in-stream error", func(t *testing.T) {
		srv := sseServer(t, []string{`{"error":{"type":"server_error","message":"overloaded"}}`}, nil)
		stream, err := NewOpenAI("", WithBaseURL(srv.URL)).Stream(context.Background(), Request{Model: "m"})
		require.NoError(t, err)
		defer stream.Close()

		_, err = stream.Next()
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "overloaded", perr.Message)
	})

	t.Run("bad chunk", func(t *testing.T) {
		srv := sseServer(t, []string{`{not json`}, nil)
		stream, err := NewOpenAI("", WithBaseURL(srv.URL)).Stream(context.Background(), Request{Model: "m"})
		require.NoError(t, err)
		defer stream.Close()

		_, err = stream.Next()
		assert.ErrorContains(t, err, "parsing stream chunk")
	})
}

func TestProviders(t *testing.T) {
	providers, err := NewProviders(map[string]ProviderConfig{
		"openai": {BaseURL: "https://api.openai.com/v1", Models: []string{"gpt-4o", "gpt-4o-mini"}},
		"local":  {BaseURL: "http://localhost:11434/v1", Models: []string{"qwen3.5:9b"}},
	})
	require.NoError(t, err)

	var ids []string
	for _, m := range providers.Models() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"local.qwen3.5:9b", "openai.gpt-4o", "openai.gpt-4o-mini"}, ids)
	assert.Equal(t, "local.qwen3.5:9b", providers.Default())

	endpoint, model, err := providers.Resolve("local.qwen3.5:9b")
	require.NoError(t, err)
	assert.NotNil(t, endpoint)
	assert.Equal(t, "qwen3.5:9b", model)

	for _, id := range []string{"nope.gpt", "gpt-4o", ".x", "openai."} {
		_, _, err := providers.Resolve(id)
		assert.ErrorIs(t, err, ErrUnknownModel, id)
	}

	_, err = NewProviders(map[string]ProviderConfig{"bad.name": {}})
	assert.Error(t, err)
}

func TestMessageValidate(t *testing.T) {
	valid := []Message{
		UserMessage("hi"),
		AssistantMessage("hello"),
		AssistantToolCall("", ToolCall{ID: "1", Name: "a:b"}),
		ToolResultMessage("1", ""),
	}
	for _, m := range valid {
		assert.NoError(t, m.Validate(), "%+v", m)
	}

	invalid := []Message{
		{Role: RoleAssistant},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "a:b"}}},
		{Role: RoleTool, Content: "x"},
		{Role: RoleUser, ToolCallID: "1"},
		{Role: "robot", Content: "x"},
	}
	for _, m := range invalid {
		assert.Error(t, m.Validate(), "%+v", m)
	}
}
