package turn

import (
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbdamask/mcpchat/pkg/llm"
)

type sliceStream struct {
	fragments []llm.Fragment
	err       error
	reads     int
	closed    bool
}

func (s *sliceStream) Next() (llm.Fragment, error) {
	if s.reads >= len(s.fragments) {
		if s.err != nil {
			return llm.Fragment{}, s.err
		}
		return llm.Fragment{}, io.EOF
	}
	f := s.fragments[s.reads]
	s.reads++
	return f, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func drain(t *testing.T, d *Decoder) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestContentOnlyStop(t *testing.T) {
	deltas := []string{"The ", "answer ", "is ", " 4", "\n"}
	var frags []llm.Fragment
	for _, d := range deltas {
		frags = append(frags, llm.Fragment{Content: d})
	}
	frags = append(frags, llm.Fragment{FinishReason: llm.FinishStop})

	d := NewDecoder(&sliceStream{fragments: frags})
	events, err := drain(t, d)
	require.NoError(t, err)

	require.Len(t, events, len(deltas)+1)
	for i, text := range deltas {
		assert.Equal(t, Event{Type: ContentDelta, Text: text}, events[i])
	}
	assert.Equal(t, TurnFinished, events[len(events)-1].Type)

	outcome, ok := d.Outcome()
	require.True(t, ok)
	assert.Equal(t, FinishedStop, outcome.State)
	assert.Equal(t, strings.Join(deltas, ""), outcome.Text)
	assert.Nil(t, outcome.Call)
}

func TestReasoningThenContent(t *testing.T) {
	d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
		{Reasoning: "think"},
		{Reasoning: "ing"},
		{Content: "done"},
		{FinishReason: llm.FinishStop},
	}})

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, ReasoningDelta, ev.Type)
	assert.Equal(t, Reasoning, d.State())

	events, err := drain(t, d)
	require.NoError(t, err)
	assert.Equal(t, []EventType{ReasoningDelta, ContentDelta, TurnFinished}, types(events))
	assert.Equal(t, FinishedStop, d.State())

	outcome, _ := d.Outcome()
	assert.Equal(t, "thinking", outcome.Reasoning)
	assert.Equal(t, "done", outcome.Text)
}

func TestToolCall(t *testing.T) {
	d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
		{Content: "Adding."},
		{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "calc:add"}}},
		{ToolCalls: []llm.ToolCallDelta{{Arguments: `{"a":1,`}}},
		{ToolCalls: []llm.ToolCallDelta{{Arguments: `"b":2}`}}},
		{FinishReason: llm.FinishToolCalls},
		{Content: "never read"},
	}})

	events, err := drain(t, d)
	require.NoError(t, err)
	assert.Equal(t, []EventType{ContentDelta, ToolCallOpened, ToolCallArgDelta, ToolCallArgDelta, ToolCallClosed}, types(events))
	assert.Equal(t, "calc:add", events[1].Name)
	assert.Equal(t, "1", events[1].CallID)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(events[4].Arguments))

	outcome, ok := d.Outcome()
	require.True(t, ok)
	assert.Equal(t, FinishedToolCalls, outcome.State)
	assert.Equal(t, "Adding.", outcome.Text)
	require.NotNil(t, outcome.Call)
	assert.Equal(t, "1", outcome.Call.ID)
	assert.Equal(t, "calc", outcome.Call.Backend)
	assert.Equal(t, "add", outcome.Call.Local)
}

func TestArgumentsRoundTrip(t *testing.T) {
	whole := `{"query":"SELECT * FROM t WHERE name = 'x'","limit":10,"nested":{"list":[1,2,3],"ok":true},"emoji":"é中"}`
	var want any
	require.NoError(t, json.Unmarshal([]byte(whole), &want))

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		frags := []llm.Fragment{{ToolCalls: []llm.ToolCallDelta{{ID: "x", Name: "db:query"}}}}
		rest := whole
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			frags = append(frags, llm.Fragment{ToolCalls: []llm.ToolCallDelta{{Arguments: rest[:n]}}})
			rest = rest[n:]
		}
		frags = append(frags, llm.Fragment{FinishReason: llm.FinishToolCalls})

		d := NewDecoder(&sliceStream{fragments: frags})
		events, err := drain(t, d)
		require.NoError(t, err)

		var argDeltas strings.Builder
		for _, ev := range events {
			if ev.Type == ToolCallArgDelta {
				argDeltas.WriteString(ev.Text)
			}
		}
		assert.Equal(t, whole, argDeltas.String())

		outcome, _ := d.Outcome()
		var got any
		require.NoError(t, json.Unmarshal(outcome.Call.Arguments, &got))
		assert.Equal(t, want, got)
	}
}

func TestToolCallEdgeCases(t *testing.T) {
	t.Run("empty arguments", func(t *testing.T) {
		d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
			{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "clock:now"}}, FinishReason: llm.FinishToolCalls},
		}})
		events, err := drain(t, d)
		require.NoError(t, err)
		assert.Equal(t, []EventType{ToolCallOpened, ToolCallClosed}, types(events))
		assert.Equal(t, "{}", string(events[1].Arguments))
	})

	t.Run("missing id", func(t *testing.T) {
		d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
			{ToolCalls: []llm.ToolCallDelta{{Name: "clock:now", Arguments: "{}"}}},
			{FinishReason: llm.FinishToolCalls},
		}})
		_, err := drain(t, d)
		require.NoError(t, err)
		outcome, _ := d.Outcome()
		assert.True(t, strings.HasPrefix(outcome.Call.ID, "call_"), outcome.Call.ID)
	})

	t.Run("stop with open call", func(t *testing.T) {
		d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
			{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "calc:add", Arguments: `{"a":1}`}}},
			{FinishReason: llm.FinishStop},
		}})
		events, err := drain(t, d)
		require.NoError(t, err)
		assert.Equal(t, ToolCallClosed, events[len(events)-1].Type)
		assert.Equal(t, FinishedToolCalls, d.State())
	})

	t.Run("length without call", func(t *testing.T) {
		d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
			{Content: "partial"},
			{FinishReason: llm.FinishLength},
		}})
		events, err := drain(t, d)
		require.NoError(t, err)
		assert.Equal(t, []EventType{ContentDelta, TurnFinished}, types(events))
		outcome, _ := d.Outcome()
		assert.Equal(t, llm.FinishLength, outcome.FinishReason)
	})

	t.Run("unqualified name", func(t *testing.T) {
		d := NewDecoder(&sliceStream{fragments: []llm.Fragment{
			{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "add"}}},
			{FinishReason: llm.FinishToolCalls},
		}})
		_, err := drain(t, d)
		require.NoError(t, err)
		outcome, _ := d.Outcome()
		assert.Equal(t, "add", outcome.Call.Name)
		assert.Empty(t, outcome.Call.Backend)
	})
}

func TestDecoderErrors(t *testing.T) {
	upstream := errors.New("connection reset")

	tests := []struct {
		name      string
		fragments []llm.Fragment
		srcErr    error
		want      error
		malformed bool
	}{
		{
			name: "second tool call by index",
			fragments: []llm.Fragment{
				{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "1", Name: "a:x"}}},
				{ToolCalls: []llm.ToolCallDelta{{Index: 1, ID: "2", Name: "a:y"}}},
			},
			want: ErrMultipleToolCalls,
		},
		{
			name: "second tool call by id",
			fragments: []llm.Fragment{
				{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "a:x"}}},
				{ToolCalls: []llm.ToolCallDelta{{ID: "2", Name: "a:x"}}},
			},
			want: ErrMultipleToolCalls,
		},
		{
			name:      "arguments before header",
			fragments: []llm.Fragment{{ToolCalls: []llm.ToolCallDelta{{Arguments: "{}"}}}},
			want:      ErrToolCallHeader,
		},
		{
			name:      "tool_calls without call",
			fragments: []llm.Fragment{{Content: "hi", FinishReason: llm.FinishToolCalls}},
			want:      ErrNoToolCall,
		},
		{
			name:      "no finish reason",
			fragments: []llm.Fragment{{Content: "hi"}},
			want:      ErrIncompleteStream,
		},
		{
			name:      "upstream failure",
			fragments: []llm.Fragment{{Content: "hi"}},
			srcErr:    upstream,
			want:      upstream,
		},
		{
			name: "invalid json",
			fragments: []llm.Fragment{
				{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "a:x", Arguments: `{"a":`}}},
				{FinishReason: llm.FinishToolCalls},
			},
			malformed: true,
		},
		{
			name: "array arguments",
			fragments: []llm.Fragment{
				{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "a:x", Arguments: `[1,2]`}}},
				{FinishReason: llm.FinishToolCalls},
			},
			malformed: true,
		},
		{
			name: "null arguments",
			fragments: []llm.Fragment{
				{ToolCalls: []llm.ToolCallDelta{{ID: "1", Name: "a:x", Arguments: `null`}}},
				{FinishReason: llm.FinishToolCalls},
			},
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(&sliceStream{fragments: tt.fragments, err: tt.srcErr})
			_, err := drain(t, d)
			require.Error(t, err)
			if tt.malformed {
				var merr *MalformedToolArgumentsError
				require.ErrorAs(t, err, &merr)
				assert.Equal(t, "a:x", merr.Name)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}

			// Errors are sticky and the decoder never reaches a terminal state.
			_, again := d.Next()
			assert.Equal(t, err, again)
			_, ok := d.Outcome()
			assert.False(t, ok)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "tool_args", ToolArgs.String())
	assert.True(t, FinishedToolCalls.Terminal())
	assert.False(t, Content.Terminal())
}
