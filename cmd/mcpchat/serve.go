package main

import (
	"github.com/spf13/cobra"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/server"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Long: "Serve the chat API over HTTP.\n\n" +
			"  POST /v1/chat    stream a turn as server-sent events\n" +
			"  GET  /v1/models  list model ids\n" +
			"  GET  /v1/tools   list tool capabilities",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			system := a.cfg.SystemPrompt
			if system == "" {
				system = agent.DefaultSystemPrompt
			}
			srv := server.New(a.providers, a.registry, server.Options{
				DefaultModel: a.model,
				Agent: agent.Config{
					System:         system,
					MaxTokens:      a.cfg.MaxTokens,
					Temperature:    a.cfg.Temperature,
					FoldToolErrors: a.cfg.FoldToolErrors,
				},
				Logger: a.logger,
			})
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	return cmd
}
