package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/server"
	"github.com/jbdamask/mcpchat/pkg/turn"
	"github.com/jbdamask/mcpchat/pkg/ui"
)

func newAskCommand(flags *globalFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask one question and stream the answer",
		Long: "Ask one question and stream the answer to stdout. Use - to read the prompt from stdin.\n" +
			"Exits with status 2 if the run fails.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			return runAsk(cmd.Context(), flags, prompt, jsonOutput, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print events as JSON lines")
	return cmd
}

func runAsk(ctx context.Context, flags *globalFlags, prompt string, jsonOutput bool, out io.Writer) error {
	a, err := newApp(flags)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connect(ctx); err != nil {
		return err
	}

	transcript, err := agent.NewTranscript(llm.UserMessage(prompt))
	if err != nil {
		return err
	}
	ag, err := a.newAgent(a.model)
	if err != nil {
		return err
	}

	emit := textEmitter(out)
	if jsonOutput {
		emit = jsonEmitter(out)
	}
	for ev, err := range ag.Run(ctx, transcript) {
		if err != nil {
			emit(turn.Event{}, err)
			return &exitError{code: 2, err: err}
		}
		emit(ev, nil)
	}
	return nil
}

type emitter func(turn.Event, error)

func textEmitter(out io.Writer) emitter {
	r := ui.NewRenderer(out, out == io.Writer(os.Stdout) && stdoutIsTerminal())
	return func(ev turn.Event, err error) {
		if err != nil {
			r.Error(err)
			return
		}
		r.Render(ev)
	}
}

func jsonEmitter(out io.Writer) emitter {
	encoder := json.NewEncoder(out)
	return func(ev turn.Event, err error) {
		if err != nil {
			encoder.Encode(struct {
				Type string `json:"type"`
				server.ErrorPayload
			}{Type: server.EventError, ErrorPayload: server.ErrorPayload{Kind: server.ErrorKind(err), Message: err.Error()}})
			return
		}
		encoder.Encode(ev)
	}
}
