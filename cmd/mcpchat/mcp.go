package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jbdamask/mcpchat/pkg/mcp"
)

// configTarget selects which mcpServers file a subcommand edits.
type configTarget struct {
	scope string
	file  string
}

func (t *configTarget) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&t.scope, "scope", "s", string(mcp.ScopeUser), "config scope: user or project")
	fs.StringVar(&t.file, "file", "", "edit this mcpServers file instead of a scope")
}

func (t *configTarget) path() (string, error) {
	if t.file != "" {
		return t.file, nil
	}
	return mcp.GetConfigPath(mcp.Scope(t.scope))
}

func newMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server entries",
	}
	cmd.AddCommand(newMCPAddCommand(), newMCPRemoveCommand(), newMCPListCommand())
	return cmd
}

func newMCPAddCommand() *cobra.Command {
	var target configTarget
	var rawJSON string
	var env map[string]string

	cmd := &cobra.Command{
		Use:   "add <name> [command [args...]]",
		Short: "Add an MCP server",
		Example: "  mcpchat mcp add fs npx -y @modelcontextprotocol/server-filesystem /tmp\n" +
			`  mcpchat mcp add web --json '{"command":"uvx","args":["mcp-server-fetch"]}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var server mcp.ServerConfig
			switch {
			case rawJSON != "":
				if len(args) > 1 {
					return fmt.Errorf("--json and a command are mutually exclusive")
				}
				if err := json.Unmarshal([]byte(rawJSON), &server); err != nil {
					return fmt.Errorf("invalid --json: %w", err)
				}
			case len(args) < 2:
				return fmt.Errorf("a command or --json is required")
			default:
				server = mcp.ServerConfig{Command: args[1], Args: args[2:]}
			}
			if len(env) > 0 {
				if server.Env == nil {
					server.Env = make(map[string]string, len(env))
				}
				for k, v := range env {
					server.Env[k] = v
				}
			}

			path, err := target.path()
			if err != nil {
				return err
			}
			if err := mcp.AddServer(path, name, server); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added MCP server %q to %s\n", name, path)
			fmt.Fprintf(cmd.OutOrStdout(), "Command: %s\n", strings.TrimSpace(server.Command+" "+strings.Join(server.Args, " ")))
			return nil
		},
	}
	// Flags after the server command belong to it, e.g. npx -y.
	cmd.Flags().SetInterspersed(false)
	target.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&rawJSON, "json", "", "server entry as JSON")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "environment for the server, KEY=VALUE")
	return cmd
}

func newMCPRemoveCommand() *cobra.Command {
	var target configTarget
	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an MCP server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := target.path()
			if err != nil {
				return err
			}
			if err := mcp.RemoveServer(path, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed MCP server %q from %s\n", args[0], path)
			return nil
		},
	}
	target.AddFlags(cmd.Flags())
	return cmd
}

func newMCPListCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configured MCP servers from every scope",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := mcp.LoadAllConfigs(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(config.MCPServers) == 0 {
				fmt.Fprintln(out, "No MCP servers configured.")
				fmt.Fprintln(out, "\nTo add one:\n  mcpchat mcp add <name> <command> [args...]")
				return nil
			}

			names := make([]string, 0, len(config.MCPServers))
			for name := range config.MCPServers {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				server := config.MCPServers[name]
				status := ""
				if server.Disabled {
					status = " (disabled)"
				}
				fmt.Fprintf(out, "%s%s\n", name, status)
				fmt.Fprintf(out, "  command: %s\n", strings.TrimSpace(server.Command+" "+strings.Join(server.Args, " ")))
				if len(server.Env) > 0 {
					keys := make([]string, 0, len(server.Env))
					for k := range server.Env {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					fmt.Fprintf(out, "  env: %s\n", strings.Join(keys, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "also load this mcpServers file")
	return cmd
}
