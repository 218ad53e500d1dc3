package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ProtocolVersion is the MCP revision sent in the initialize request.
const ProtocolVersion = "2024-11-05"

// JSON-RPC message types
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// message is any inbound line: a response to one of our requests, or a
// request or notification initiated by the server.
type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *JSONRPCError   `json:"error,omitempty"`
}

// MCP protocol types
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string           `json:"protocolVersion"`
	Capabilities    ServerCapability `json:"capabilities"`
	ServerInfo      ServerInfo       `json:"serverInfo"`
}

type ServerCapability struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type cancelledParams struct {
	RequestID int64  `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// Client owns one backend process and the JSON-RPC channel over its
// stdin/stdout. Invoke calls are serialized: at most one tools/call is in
// flight per client.
type Client struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	opts    options

	requestID atomic.Int64
	writeMu   sync.Mutex
	mu        sync.Mutex
	pending   map[int64]chan *message

	calls chan struct{}
	done  chan struct{}

	server       ServerInfo
	capabilities []Capability

	closeOnce sync.Once
	closeErr  error
}

// NewClient prepares a client for a server. The process is not started
// until Connect.
func NewClient(name string, config ServerConfig, opts ...Option) (*Client, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("mcp %s: no command configured", name)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	command := os.ExpandEnv(config.Command)
	args := make([]string, len(config.Args))
	for i, arg := range config.Args {
		args[i] = os.ExpandEnv(arg)
	}

	cmd := exec.Command(command, args...)
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, os.ExpandEnv(v)))
	}
	cmd.Stderr = o.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	client := &Client{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		scanner: bufio.NewScanner(stdout),
		opts:    o,
		pending: make(map[int64]chan *message),
		calls:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	client.scanner.Buffer(make([]byte, min(64*1024, o.maxMessageSize)), o.maxMessageSize)

	return client, nil
}

// Open starts a backend and completes the handshake. It fails with
// ErrBackendUnavailable if the process cannot start or the handshake does
// not finish within the handshake timeout.
func Open(ctx context.Context, name string, config ServerConfig, opts ...Option) (*Client, error) {
	client, err := NewClient(name, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: %w: %v", name, ErrBackendUnavailable, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Connect starts the server process, runs initialize, sends the
// initialized notification and fetches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cmd.Start(); err != nil {
		return unavailable(c.name, "failed to start server: %v", err)
	}

	go c.readMessages()

	if c.opts.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.handshakeTimeout)
		defer cancel()
	}

	result, err := c.Initialize(ctx)
	if err != nil {
		c.Close()
		return unavailable(c.name, "initialize: %v", err)
	}
	c.server = result.ServerInfo

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.Close()
		return unavailable(c.name, "initialized notification: %v", err)
	}

	capabilities, err := c.ListCapabilities(ctx)
	if err != nil {
		c.Close()
		if IsProtocolError(err) {
			return fmt.Errorf("mcp %s: %w: %w", c.name, ErrBackendUnavailable, err)
		}
		return unavailable(c.name, "list tools: %v", err)
	}
	c.capabilities = capabilities

	c.opts.logger.Debug("mcp backend connected",
		"backend", c.name,
		"server", result.ServerInfo.Name,
		"protocol", result.ProtocolVersion,
		"tools", len(capabilities),
	)
	return nil
}

// Initialize sends the initialize request to the server
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.opts.clientInfo,
	}

	raw, err := c.request(ctx, "initialize", params)
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Backend: c.name, Method: "initialize", Err: err}
	}
	return &result, nil
}

// ListCapabilities fetches every tool the server declares, following
// pagination cursors. Each input schema must compile.
func (c *Client) ListCapabilities(ctx context.Context) ([]Capability, error) {
	var capabilities []Capability
	var cursor string
	for {
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}
		raw, err := c.request(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}

		var result ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &ProtocolError{Backend: c.name, Method: "tools/list", Err: err}
		}
		for _, tool := range result.Tools {
			capability, err := toCapability(c.name, len(capabilities), tool)
			if err != nil {
				return nil, &ProtocolError{Backend: c.name, Method: "tools/list", Err: err}
			}
			capabilities = append(capabilities, capability)
		}

		if result.NextCursor == "" || result.NextCursor == cursor {
			return capabilities, nil
		}
		cursor = result.NextCursor
	}
}

// Invoke calls one tool and blocks until its response arrives. A JSON-RPC
// error or an isError result yields an *InvocationError; for the latter
// the result is returned as well.
func (c *Client) Invoke(ctx context.Context, name string, arguments json.RawMessage) (*Result, error) {
	select {
	case c.calls <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, unavailable(c.name, "connection closed")
	}
	defer func() { <-c.calls }()

	callCtx := ctx
	if c.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.callTimeout)
		defer cancel()
	}

	raw, err := c.request(callCtx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("mcp %s: %s: %w after %s", c.name, name, ErrTimeout, c.opts.callTimeout)
		}
		var rpcErr *JSONRPCError
		if errors.As(err, &rpcErr) {
			return nil, &InvocationError{Backend: c.name, Capability: name, Code: rpcErr.Code, Reason: rpcErr.Message}
		}
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Backend: c.name, Method: "tools/call", Err: err}
	}
	if result.Content == nil && len(result.StructuredContent) == 0 {
		return nil, &ProtocolError{Backend: c.name, Method: "tools/call", Err: errors.New("result has no content")}
	}
	if result.IsError {
		return &result, &InvocationError{Backend: c.name, Capability: name, Reason: result.Text(), Reported: true}
	}
	return &result, nil
}

// Capabilities returns the tools listed during Connect.
func (c *Client) Capabilities() []Capability {
	return c.capabilities
}

// ServerInfo returns what the server reported during initialize.
func (c *Client) ServerInfo() ServerInfo {
	return c.server
}

// Close shuts down the connection and the server process. Stdin is closed
// first so well-behaved servers can exit; the process is killed after the
// shutdown grace period. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		if c.cmd.Process == nil {
			return
		}

		timer := time.NewTimer(c.opts.shutdownGrace)
		select {
		case <-c.done:
		case <-timer.C:
		}
		timer.Stop()

		c.cmd.Process.Kill()
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.closeErr = err
		}
		<-c.done
		c.opts.logger.Debug("mcp backend closed", "backend", c.name)
	})
	return c.closeErr
}

func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	respChan := make(chan *message, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return nil, unavailable(c.name, "failed to send %s: %v", method, err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 {
			return nil, &ProtocolError{Backend: c.name, Method: method, Err: errors.New("response has neither result nor error")}
		}
		return resp.Result, nil
	case <-ctx.Done():
		if method != "initialize" {
			c.notify("notifications/cancelled", cancelledParams{RequestID: id, Reason: ctx.Err().Error()})
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, unavailable(c.name, "connection closed while waiting for %s", method)
	}
}

func (c *Client) notify(method string, params any) error {
	return c.write(JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

func (c *Client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = fmt.Fprintf(c.stdin, "%s\n", data)
	return err
}

func (c *Client) readMessages() {
	defer close(c.done)

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.opts.logger.Debug("skipping non-JSON line from backend", "backend", c.name, "error", err)
			continue
		}

		if msg.Method != "" {
			c.handleServerMessage(&msg)
			continue
		}

		var id int64
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			c.opts.logger.Debug("skipping response with unknown id", "backend", c.name, "id", string(msg.ID))
			continue
		}

		c.mu.Lock()
		if ch, ok := c.pending[id]; ok {
			select {
			case ch <- &msg:
			default:
			}
		}
		c.mu.Unlock()
	}

	if err := c.scanner.Err(); err != nil {
		c.opts.logger.Warn("backend channel read failed", "backend", c.name, "error", err)
	}
}

// handleServerMessage answers requests the server initiates. Only ping is
// supported; notifications are ignored.
func (c *Client) handleServerMessage(msg *message) {
	if len(msg.ID) == 0 {
		return
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: msg.ID}
	if msg.Method == "ping" {
		resp.Result = struct{}{}
	} else {
		resp.Error = &JSONRPCError{Code: -32601, Message: "method not found: " + msg.Method}
	}
	if err := c.write(resp); err != nil {
		c.opts.logger.Debug("failed to answer server request", "backend", c.name, "method", msg.Method, "error", err)
	}
}
