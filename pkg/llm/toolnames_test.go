package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validFunctionName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func definitions(names ...string) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, ToolDefinition{Name: name})
	}
	return defs
}

func TestToolNamesPlain(t *testing.T) {
	long := "srv:" + strings.Repeat("x", 80)
	names, err := newToolNames(definitions("calc:add", "fs:read.file", "web:fetch/url", long))
	require.NoError(t, err)

	tests := map[string]string{
		"calc:add":      "calc__add",
		"fs:read.file":  "fs__read_file",
		"web:fetch/url": "web__fetch_url",
		long:            ("srv__" + strings.Repeat("x", 80))[:64],
	}
	for qualified, want := range tests {
		assert.Equal(t, want, names.wire(qualified))
		assert.Equal(t, qualified, names.qualified(want))
	}

	assert.Equal(t, "gone__tool", names.wire("gone:tool"))
	assert.Equal(t, "unknown", names.qualified("unknown"))
}

func TestToolNamesCollision(t *testing.T) {
	names, err := newToolNames(definitions("a:b__c", "a__b:c", "a:b_c", "x:read.me", "x:read_me"))
	require.NoError(t, err)

	seen := make(map[string]string)
	for _, qualified := range []string{"a:b__c", "a__b:c", "a:b_c", "x:read.me", "x:read_me"} {
		wire := names.wire(qualified)
		assert.Regexp(t, validFunctionName, wire)
		if other, ok := seen[wire]; ok {
			t.Fatalf("%q and %q share function name %q", other, qualified, wire)
		}
		seen[wire] = qualified
		assert.Equal(t, qualified, names.qualified(wire))
	}
	assert.Equal(t, "a__b_c", names.wire("a:b_c"))

	reversed, err := newToolNames(definitions("x:read_me", "x:read.me", "a:b_c", "a__b:c", "a:b__c"))
	require.NoError(t, err)
	assert.Equal(t, names.toWire, reversed.toWire)
}

func TestOpenAIRoutesCollidingToolNames(t *testing.T) {
	tools := definitions("a:b__c", "a__b:c")
	names, err := newToolNames(tools)
	require.NoError(t, err)
	target := names.wire("a__b:c")

	advertised := make(chan []string, 1)
	srv := sseServer(t, []string{
		fmt.Sprintf(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":%q,"arguments":"{}"}}]}}]}`, target),
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}, func(r *http.Request, body []byte) {
		var req openAIRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		var sent []string
		for _, tool := range req.Tools {
			sent = append(sent, tool.Function.Name)
		}
		advertised <- sent
	})

	stream, err := NewOpenAI("", WithBaseURL(srv.URL)).Stream(context.Background(), Request{
		Model:    "m",
		Messages: []Message{UserMessage("go")},
		Tools:    tools,
	})
	require.NoError(t, err)

	fragments := collect(t, stream)
	require.NotEmpty(t, fragments)
	require.Len(t, fragments[0].ToolCalls, 1)
	assert.Equal(t, "a__b:c", fragments[0].ToolCalls[0].Name)

	sent := <-advertised
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0], sent[1])
}
