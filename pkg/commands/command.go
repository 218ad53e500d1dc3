package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/tools"
	"github.com/jbdamask/mcpchat/pkg/ui"
)

// ErrUnknownCommand is returned by Dispatch for a name nobody registered.
var ErrUnknownCommand = errors.New("unknown command")

// State is the REPL state commands read and change.
type State struct {
	Tools      *tools.Registry
	Providers  *llm.Providers
	Transcript *agent.Transcript

	// Model is the selected provider.model id.
	Model string

	// Pick shows an interactive list; nil means no terminal is available.
	Pick func(title string, items []ui.Item) (id string, ok bool, err error)

	// Copy puts text on the clipboard.
	Copy func(text string) error
}

// Command is a slash command run by the REPL.
type Command interface {
	// Name returns the command name without the leading slash.
	Name() string

	// Description is shown in the command picker.
	Description() string

	// Execute runs the command with the text after its name and returns
	// what to print.
	Execute(ctx context.Context, state *State, args string) (string, error)
}

// Registry holds slash commands in registration order.
type Registry struct {
	commands map[string]Command
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Default returns a registry with every built-in command.
func Default() *Registry {
	r := NewRegistry()
	r.Register(MCPCommand{})
	r.Register(ModelCommand{})
	r.Register(ToolsCommand{})
	r.Register(ClearCommand{})
	r.Register(CopyCommand{})
	return r
}

func (r *Registry) Register(cmd Command) {
	name := cmd.Name()
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

func (r *Registry) Get(name string) (Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns all commands in registration order.
func (r *Registry) List() []Command {
	cmds := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		cmds = append(cmds, r.commands[name])
	}
	return cmds
}

// Items returns the commands as picker items.
func (r *Registry) Items() []ui.Item {
	items := make([]ui.Item, 0, len(r.order))
	for _, cmd := range r.List() {
		items = append(items, ui.Item{ID: cmd.Name(), Label: "/" + cmd.Name(), Detail: cmd.Description()})
	}
	return items
}

// IsCommand reports whether line is a slash command.
func IsCommand(line string) bool {
	return strings.HasPrefix(line, "/") && len(line) > 1
}

// Dispatch runs the command named by line, e.g. "/model openai.gpt-4o".
func (r *Registry) Dispatch(ctx context.Context, state *State, line string) (string, error) {
	name, args, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(line), "/"), " ")
	cmd, ok := r.commands[name]
	if !ok {
		return "", fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
	return cmd.Execute(ctx, state, strings.TrimSpace(args))
}
