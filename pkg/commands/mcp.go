package commands

import (
	"context"
	"fmt"
	"strings"
)

// MCPCommand shows the status of every configured tool backend.
type MCPCommand struct{}

func (MCPCommand) Name() string { return "mcp" }

func (MCPCommand) Description() string { return "Show tool backend status" }

func (MCPCommand) Execute(ctx context.Context, state *State, args string) (string, error) {
	backends := state.Tools.Backends()
	if len(backends) == 0 {
		return "No tool backends are configured. Add one with:\n\n" +
			"  mcpchat mcp add <name> <command> [args...]\n", nil
	}

	var sb strings.Builder
	sb.WriteString("Tool backends:\n")
	for _, b := range backends {
		status := fmt.Sprintf("✓ connected (%d tools)", b.Capabilities)
		if !b.Connected {
			status = "✗ unavailable"
			if b.Err != nil {
				status += ": " + b.Err.Error()
			}
		}
		fmt.Fprintf(&sb, "  %s  %s\n", b.ID, status)
	}
	sb.WriteString("\nManage backends with `mcpchat mcp add|remove|list`.\n")
	return sb.String(), nil
}
