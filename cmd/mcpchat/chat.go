package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/commands"
	"github.com/jbdamask/mcpchat/pkg/history"
	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/ui"
)

type chatOptions struct {
	// resume is a session file path, or "last" for the newest session of
	// the working directory.
	resume string
}

func newChatCommand(flags *globalFlags) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.resume, "resume", "r", "", `resume a session file, or "last"`)
	return cmd
}

func runChat(ctx context.Context, flags *globalFlags, opts chatOptions) error {
	a, err := newApp(flags)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connect(ctx); err != nil {
		return err
	}

	// From here Ctrl-C cancels the running turn, not the session.
	ctx, stop := signal.NotifyContext(context.WithoutCancel(ctx), syscall.SIGTERM)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	transcript, session, err := openSession(a, cwd, opts.resume)
	if err != nil {
		return err
	}
	recorded := transcript.Len()

	u := ui.New(os.Stdout, stdoutIsTerminal())
	state := &commands.State{
		Tools:      a.registry,
		Providers:  a.providers,
		Transcript: transcript,
		Model:      a.model,
		Pick:       u.Pick,
		Copy:       commands.SystemClipboard,
	}
	slash := commands.Default()

	var offline []string
	for _, b := range a.registry.Backends() {
		if !b.Connected {
			offline = append(offline, b.ID)
		}
	}
	u.DrawBanner(ui.BannerInfo{
		Version:  version,
		Model:    state.Model,
		CWD:      cwd,
		Backends: len(a.registry.Backends()) - len(offline),
		Tools:    len(a.registry.AllCapabilities()),
		Offline:  offline,
	})
	if recorded > 0 {
		u.Print(fmt.Sprintf("Resumed %d messages.", recorded))
	}

	for {
		line, ok, err := u.Prompt("> ")
		if err != nil {
			return err
		}
		if !ok || line == "exit" || line == "quit" {
			return nil
		}
		if line == "" {
			continue
		}

		if line == "/" {
			picked, ok, err := u.Pick("Commands", slash.Items())
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			line = "/" + picked
		}

		if commands.IsCommand(line) {
			out, err := slash.Dispatch(ctx, state, line)
			if err != nil {
				u.Renderer.Error(err)
				continue
			}
			if out != "" {
				u.Print(strings.TrimRight(out, "\n"))
			}
			if state.Transcript != transcript {
				// Cleared: continue in a fresh session file.
				transcript = state.Transcript
				if session, err = newSession(a, cwd, state.Model); err != nil {
					return err
				}
				recorded = 0
			}
			continue
		}

		if err := transcript.Append(llm.UserMessage(line)); err != nil {
			return err
		}
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		runTurn(turnCtx, a, state.Model, transcript, u.Renderer)
		stop()

		if session != nil {
			session.Model = state.Model
			if err := session.Append(transcript.Since(recorded)...); err != nil {
				a.logger.Warn("failed to record session", "error", err)
			}
		}
		recorded = transcript.Len()
	}
}

func runTurn(ctx context.Context, a *app, model string, transcript *agent.Transcript, r *ui.Renderer) {
	ag, err := a.newAgent(model)
	if err != nil {
		r.Error(err)
		return
	}
	for ev, err := range ag.Run(ctx, transcript) {
		if errors.Is(err, context.Canceled) {
			r.Error(errors.New("interrupted"))
			return
		}
		if err != nil {
			r.Error(err)
			return
		}
		r.Render(ev)
	}
}

// openSession returns the transcript to start from and the session file to
// record to; the session is nil when history is disabled.
func openSession(a *app, cwd, resume string) (*agent.Transcript, *history.SessionManager, error) {
	if resume == "" {
		transcript, _ := agent.NewTranscript()
		session, err := newSession(a, cwd, a.model)
		return transcript, session, err
	}

	path := resume
	if resume == "last" {
		sessions, err := history.ListSessions(a.cfg.History.Dir, cwd)
		if err != nil {
			return nil, nil, err
		}
		if len(sessions) == 0 {
			return nil, nil, fmt.Errorf("no sessions recorded for %s", cwd)
		}
		path = sessions[0].Path
	}

	session, messages, err := history.Load(path)
	if err != nil {
		return nil, nil, err
	}
	transcript, err := agent.NewTranscript(messages...)
	if err != nil {
		return nil, nil, err
	}
	if !a.cfg.History.Enabled {
		session = nil
	}
	return transcript, session, nil
}

func newSession(a *app, cwd, model string) (*history.SessionManager, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	session, err := history.NewSessionManager(a.cfg.History.Dir, cwd)
	if err != nil {
		return nil, err
	}
	session.Model = model
	return session, nil
}
