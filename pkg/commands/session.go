package commands

import (
	"context"
	"errors"
	"fmt"

	"golang.design/x/clipboard"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/tools"
)

// ToolsCommand lists the capability catalog.
type ToolsCommand struct{}

func (ToolsCommand) Name() string { return "tools" }

func (ToolsCommand) Description() string { return "List available tools" }

func (ToolsCommand) Execute(ctx context.Context, state *State, args string) (string, error) {
	capabilities := state.Tools.AllCapabilities()
	if len(capabilities) == 0 {
		return "No tools available.\n", nil
	}
	return tools.Describe(capabilities), nil
}

// ClearCommand starts a new conversation. The old transcript is left
// as it was; State gets an empty one.
type ClearCommand struct{}

func (ClearCommand) Name() string { return "clear" }

func (ClearCommand) Description() string { return "Clear the conversation" }

func (ClearCommand) Execute(ctx context.Context, state *State, args string) (string, error) {
	state.Transcript = new(agent.Transcript)
	return "Conversation cleared.\n", nil
}

// CopyCommand copies the last assistant reply to the clipboard.
type CopyCommand struct{}

func (CopyCommand) Name() string { return "copy" }

func (CopyCommand) Description() string { return "Copy the last reply to the clipboard" }

func (CopyCommand) Execute(ctx context.Context, state *State, args string) (string, error) {
	messages := state.Transcript.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != llm.RoleAssistant || m.Content == "" {
			continue
		}
		copyFn := state.Copy
		if copyFn == nil {
			copyFn = SystemClipboard
		}
		if err := copyFn(m.Content); err != nil {
			return "", err
		}
		return fmt.Sprintf("Copied %d characters.\n", len([]rune(m.Content))), nil
	}
	return "", errors.New("nothing to copy yet")
}

// SystemClipboard writes text to the system clipboard.
func SystemClipboard(text string) error {
	if err := clipboard.Init(); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
