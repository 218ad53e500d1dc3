// mcpchat is a terminal chat client that lets an OpenAI-compatible model
// call tools served by MCP servers over stdio.
//
//	mcpchat                      interactive chat (default)
//	mcpchat ask <prompt>         one question, streamed to stdout
//	mcpchat serve                HTTP API with SSE streaming
//	mcpchat models | tools       list what is configured
//	mcpchat mcp add|remove|list  manage MCP server entries
//	mcpchat config schema        print the config file JSON Schema
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "v0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	model      string
	mcpConfig  string
	verbose    bool
}

func (f *globalFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "config file (default ~/.config/mcpchat/config.yaml, or $MCPCHAT_CONFIG)")
	fs.StringVarP(&f.model, "model", "m", "", "model id as provider.model")
	fs.StringVar(&f.mcpConfig, "mcp-config", "", "extra mcpServers JSON file, loaded after the user and project files")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging and MCP server stderr")
}

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

// signalContext is cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	ctx, stop := signalContext(context.Background())
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "mcpchat",
		Short:         "Chat with a model that can call MCP tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags, chatOptions{})
		},
	}
	flags.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newChatCommand(flags),
		newAskCommand(flags),
		newServeCommand(flags),
		newModelsCommand(flags),
		newToolsCommand(flags),
		newMCPCommand(),
		newConfigCommand(flags),
	)
	return root
}
