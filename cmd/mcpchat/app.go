package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/config"
	"github.com/jbdamask/mcpchat/pkg/history"
	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/mcp"
	"github.com/jbdamask/mcpchat/pkg/tools"
)

// app is the wiring shared by the chat, ask and serve commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	providers *llm.Providers
	registry  *tools.Registry
	model     string
	verbose   bool
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.mcpConfig != "" {
		cfg.MCPConfig = flags.mcpConfig
	}
	if cfg.History.Dir == "" {
		if cfg.History.Dir, err = history.DefaultDir(); err != nil {
			return nil, err
		}
	}

	logger, err := newLogger(os.Stderr, cfg.Log, flags.verbose)
	if err != nil {
		return nil, err
	}

	providers, err := llm.NewProviders(cfg.LLMProviders())
	if err != nil {
		return nil, err
	}

	model := flags.model
	if model == "" {
		model = cfg.Model
	}
	if model == "" {
		model = providers.Default()
	}
	if _, _, err := providers.Resolve(model); err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		registry:  tools.NewRegistry(),
		model:     model,
		verbose:   flags.verbose,
	}, nil
}

// connect starts every configured MCP server. Backends that fail are
// reported but do not stop the others.
func (a *app) connect(ctx context.Context) error {
	servers, err := mcp.LoadAllConfigs(a.cfg.MCPConfig)
	if err != nil {
		return err
	}

	var stderr io.Writer = io.Discard
	if a.verbose {
		stderr = os.Stderr
	}
	opts := []mcp.Option{
		mcp.WithClientInfo("mcpchat", version),
		mcp.WithStderr(stderr),
		mcp.WithLogger(a.logger),
	}
	if d := a.cfg.Timeouts.HandshakeTimeout(); d > 0 {
		opts = append(opts, mcp.WithHandshakeTimeout(d))
	}
	if d := a.cfg.Timeouts.CallTimeout(); d > 0 {
		opts = append(opts, mcp.WithCallTimeout(d))
	}
	if d := a.cfg.Timeouts.ShutdownGrace(); d > 0 {
		opts = append(opts, mcp.WithShutdownGrace(d))
	}
	if n := a.cfg.MCPMaxMessageBytes; n > 0 {
		opts = append(opts, mcp.WithMaxMessageSize(n))
	}

	registered := tools.ConnectAll(ctx, a.registry, servers, tools.MCPOpener(opts...), a.logger)
	a.logger.Debug("tool backends connected", "registered", registered, "configured", len(servers.MCPServers))
	return ctx.Err()
}

// newAgent builds a turn loop for modelID with the configured settings.
func (a *app) newAgent(modelID string) (*agent.Agent, error) {
	endpoint, model, err := a.providers.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	system := a.cfg.SystemPrompt
	if system == "" {
		system = agent.DefaultSystemPrompt
	}
	return agent.New(endpoint, a.registry, agent.Config{
		Model:          model,
		System:         system,
		MaxTokens:      a.cfg.MaxTokens,
		Temperature:    a.cfg.Temperature,
		FoldToolErrors: a.cfg.FoldToolErrors,
		Logger:         a.logger.With("model", modelID),
	}), nil
}

func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		a.logger.Warn("failed to close tool backends", "error", err)
	}
}

// newLogger writes to w at the configured level; verbose forces debug.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
