// Package turn decodes one streamed model completion into stream events.
//
// A Decoder reads fragments from an llm.FragmentStream and classifies them
// into reasoning, visible content and tool-call framing. It accumulates at
// most one tool call per turn and stops at the first finish reason. It does
// no I/O besides pulling fragments.
package turn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/mcp"
)

// State is the decoder's current channel.
type State int

const (
	Idle State = iota
	Reasoning
	Content
	ToolHeader
	ToolArgs
	FinishedStop
	FinishedToolCalls
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reasoning:
		return "reasoning"
	case Content:
		return "content"
	case ToolHeader:
		return "tool_header"
	case ToolArgs:
		return "tool_args"
	case FinishedStop:
		return "finished_stop"
	case FinishedToolCalls:
		return "finished_tool_calls"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state ends the decoder.
func (s State) Terminal() bool {
	return s == FinishedStop || s == FinishedToolCalls
}

// Call is a completed tool call.
type Call struct {
	ID        string
	Name      string
	Backend   string
	Local     string
	Arguments json.RawMessage
}

// Outcome is the result of a finished turn.
type Outcome struct {
	State State

	// Text is the visible content of the turn, concatenated in order.
	Text string

	// Reasoning is the reasoning text of the turn.
	Reasoning string

	// FinishReason is the reason the endpoint reported.
	FinishReason string

	// Call is set when State is FinishedToolCalls.
	Call *Call
}

type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// Decoder translates one fragment stream into events. Create a fresh
// Decoder per completion stream.
type Decoder struct {
	src     llm.FragmentStream
	state   State
	pending []Event
	err     error

	content   strings.Builder
	reasoning strings.Builder
	call      *pendingCall
	outcome   Outcome
}

func NewDecoder(src llm.FragmentStream) *Decoder {
	return &Decoder{src: src}
}

// State returns the current state.
func (d *Decoder) State() State {
	return d.state
}

// Next returns the next event. It returns io.EOF after the terminal event
// has been delivered. Errors are sticky.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.err != nil {
			return Event{}, d.err
		}
		if d.state.Terminal() {
			return Event{}, io.EOF
		}

		fragment, err := d.src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrIncompleteStream
			}
			d.err = err
			continue
		}
		// Events produced before a failure are still delivered.
		if err := d.apply(fragment); err != nil {
			d.err = err
		}
	}
}

// Outcome returns the outcome once the decoder reached a terminal state.
func (d *Decoder) Outcome() (Outcome, bool) {
	if !d.state.Terminal() {
		return Outcome{}, false
	}
	return d.outcome, true
}

func (d *Decoder) emit(ev Event) {
	d.pending = append(d.pending, ev)
}

func (d *Decoder) apply(f llm.Fragment) error {
	if f.Reasoning != "" {
		d.state = Reasoning
		d.reasoning.WriteString(f.Reasoning)
		d.emit(Event{Type: ReasoningDelta, Text: f.Reasoning})
	}
	if f.Content != "" {
		d.state = Content
		d.content.WriteString(f.Content)
		d.emit(Event{Type: ContentDelta, Text: f.Content})
	}
	for _, delta := range f.ToolCalls {
		if err := d.applyToolCall(delta); err != nil {
			return err
		}
	}
	if f.FinishReason != "" {
		return d.finish(f.FinishReason)
	}
	return nil
}

func (d *Decoder) applyToolCall(delta llm.ToolCallDelta) error {
	if d.call == nil {
		if delta.Name == "" {
			if delta.ID == "" && delta.Arguments == "" {
				return nil
			}
			return ErrToolCallHeader
		}
		id := delta.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		d.call = &pendingCall{index: delta.Index, id: id, name: delta.Name}
		d.state = ToolHeader
		d.emit(Event{Type: ToolCallOpened, Name: delta.Name, CallID: id})
	} else {
		sameIndex := delta.Index == d.call.index
		sameID := delta.ID == "" || delta.ID == d.call.id
		sameName := delta.Name == "" || delta.Name == d.call.name
		if !sameIndex || !sameID || !sameName {
			return fmt.Errorf("%w: %s already open", ErrMultipleToolCalls, d.call.name)
		}
	}

	if delta.Arguments != "" {
		d.state = ToolArgs
		d.call.args.WriteString(delta.Arguments)
		d.emit(Event{Type: ToolCallArgDelta, Text: delta.Arguments, CallID: d.call.id})
	}
	return nil
}

func (d *Decoder) finish(reason string) error {
	d.outcome = Outcome{
		Text:         d.content.String(),
		Reasoning:    d.reasoning.String(),
		FinishReason: reason,
	}

	if d.call == nil {
		if reason == llm.FinishToolCalls {
			return ErrNoToolCall
		}
		d.state = FinishedStop
		d.outcome.State = FinishedStop
		d.emit(Event{Type: TurnFinished})
		return nil
	}

	// Any finish reason with an open tool call closes that call.
	call, err := d.closeCall()
	if err != nil {
		return err
	}
	d.state = FinishedToolCalls
	d.outcome.State = FinishedToolCalls
	d.outcome.Call = call
	d.emit(Event{Type: ToolCallClosed, Name: call.Name, CallID: call.ID, Arguments: call.Arguments})
	return nil
}

func (d *Decoder) closeCall() (*Call, error) {
	raw := d.call.args.String()
	args, err := parseArguments(raw)
	if err != nil {
		return nil, &MalformedToolArgumentsError{
			CallID:    d.call.id,
			Name:      d.call.name,
			Arguments: raw,
			Err:       err,
		}
	}

	call := &Call{ID: d.call.id, Name: d.call.name, Arguments: args}
	call.Backend, call.Local, _ = mcp.SplitQualifiedName(d.call.name)
	return call, nil
}

// parseArguments validates the accumulated buffer as a JSON object. An
// empty buffer means no arguments.
func parseArguments(raw string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("arguments are null")
	}
	return json.RawMessage(trimmed), nil
}
