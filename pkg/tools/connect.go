package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jbdamask/mcpchat/pkg/mcp"
)

// Opener starts one backend and returns its connection.
type Opener func(ctx context.Context, id string, config mcp.ServerConfig) (Connection, error)

// MCPOpener opens stdio MCP servers with the given client options.
func MCPOpener(opts ...mcp.Option) Opener {
	return func(ctx context.Context, id string, config mcp.ServerConfig) (Connection, error) {
		client, err := mcp.Open(ctx, id, config, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// ConnectAll opens every enabled server concurrently and registers the
// ones that come up. A backend that fails is logged and marked
// unavailable; the others are unaffected. It returns the number of
// backends registered.
func ConnectAll(ctx context.Context, registry *Registry, config *mcp.MCPConfig, open Opener, logger *slog.Logger) int {
	ids := config.Enabled()

	type opened struct {
		conn Connection
		err  error
	}
	results := make([]opened, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			conn, err := open(ctx, id, config.MCPServers[id])
			results[i] = opened{conn: conn, err: err}
		}(i, id)
	}
	wg.Wait()

	registered := 0
	for i, id := range ids {
		res := results[i]
		if res.err != nil {
			logger.Warn("failed to connect to MCP server", "server", id, "error", res.err)
			registry.MarkUnavailable(id, res.err)
			continue
		}
		if err := registry.Register(ctx, id, res.conn); err != nil {
			logger.Warn("failed to register MCP server", "server", id, "error", err)
			registry.MarkUnavailable(id, err)
			res.conn.Close()
			continue
		}
		logger.Info("connected to MCP server", "server", id)
		registered++
	}
	return registered
}
