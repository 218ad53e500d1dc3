package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/mcp"
	"github.com/jbdamask/mcpchat/pkg/turn"
)

// Dispatcher provides the capability catalog and routes tool calls to
// their backends. *tools.Registry implements it.
type Dispatcher interface {
	AllCapabilities() []mcp.Capability
	Invoke(ctx context.Context, qualified string, arguments json.RawMessage) (*mcp.Result, error)
}

type Config struct {
	// Model is the name sent to the endpoint.
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64

	// FoldToolErrors turns a failure reported by a backend as an error
	// result into a tool message the model can see, instead of ending the
	// run. Transport and protocol failures always end the run.
	FoldToolErrors bool

	Logger *slog.Logger
}

// Agent drives the stream, decode, dispatch cycle for one conversation
// at a time. Use one Agent per concurrent conversation.
type Agent struct {
	endpoint llm.Endpoint
	tools    Dispatcher
	cfg      Config
	logger   *slog.Logger
}

func New(endpoint llm.Endpoint, tools Dispatcher, cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{endpoint: endpoint, tools: tools, cfg: cfg, logger: logger}
}

// errStopped ends a run when the consumer stops iterating.
var errStopped = errors.New("consumer stopped")

// Run streams model turns until the model stops without calling a tool.
// Every event is yielded as it is decoded. A failure is yielded once as
// the final element with a zero Event. After ctx is cancelled no further
// event is yielded and the transcript keeps only completed exchanges.
func (a *Agent) Run(ctx context.Context, transcript *Transcript) iter.Seq2[turn.Event, error] {
	return func(yield func(turn.Event, error) bool) {
		for round := 1; ; round++ {
			done, err := a.round(ctx, transcript, round, yield)
			if errors.Is(err, errStopped) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				a.logger.Debug("run ended with error", "round", round, "error", err)
				yield(turn.Event{}, err)
				return
			}
			if done {
				return
			}
		}
	}
}

// round runs one completion stream and, if it ends in a tool call, the
// dispatch. It reports whether the run is finished.
func (a *Agent) round(ctx context.Context, transcript *Transcript, round int, yield func(turn.Event, error) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	request := llm.Request{
		Model:       a.cfg.Model,
		System:      a.cfg.System,
		Messages:    transcript.Messages(),
		Tools:       toolDefinitions(a.tools.AllCapabilities()),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}
	a.logger.Debug("opening completion stream", "round", round, "model", request.Model, "messages", len(request.Messages), "tools", len(request.Tools))

	stream, err := a.endpoint.Stream(ctx, request)
	if err != nil {
		return false, fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	decoder := turn.NewDecoder(stream)
	for {
		ev, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !yield(ev, nil) {
			return false, errStopped
		}
	}
	stream.Close()

	outcome, _ := decoder.Outcome()
	if outcome.State == turn.FinishedStop {
		if outcome.Text == "" {
			a.logger.Debug("model finished without visible content", "round", round, "finish_reason", outcome.FinishReason)
			return true, nil
		}
		return true, transcript.Append(llm.AssistantMessage(outcome.Text))
	}

	call := outcome.Call
	a.logger.Debug("dispatching tool call", "round", round, "tool", call.Name, "call_id", call.ID)

	result, err := a.tools.Invoke(ctx, call.Name, call.Arguments)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	content, isError, err := a.toolContent(result, err)
	if err != nil {
		return false, err
	}

	toolMessage := llm.ToolResultMessage(call.ID, content)
	if isError {
		toolMessage = llm.ToolErrorMessage(call.ID, content)
	}
	err = transcript.Append(
		llm.AssistantToolCall(outcome.Text, llm.ToolCall{ID: call.ID, Name: call.Name, Arguments: string(call.Arguments)}),
		toolMessage,
	)
	if err != nil {
		return false, err
	}

	if !yield(turn.Event{Type: turn.ToolResult, Name: call.Name, CallID: call.ID, Text: content, IsError: isError}, nil) {
		return false, errStopped
	}
	return false, nil
}

// toolContent decides what a dispatch outcome becomes in the transcript.
func (a *Agent) toolContent(result *mcp.Result, err error) (string, bool, error) {
	if err == nil {
		return result.Text(), false, nil
	}
	var invErr *mcp.InvocationError
	if a.cfg.FoldToolErrors && errors.As(err, &invErr) && invErr.Reported {
		return invErr.Reason, true, nil
	}
	return "", false, err
}

func toolDefinitions(capabilities []mcp.Capability) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(capabilities))
	for _, c := range capabilities {
		defs = append(defs, llm.ToolDefinition{
			Name:        c.QualifiedName(),
			Description: c.Description,
			Parameters:  c.InputSchema,
		})
	}
	return defs
}
