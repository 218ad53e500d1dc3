package mcp

import (
	"io"
	"log/slog"
	"os"
	"time"
)

type options struct {
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	shutdownGrace    time.Duration
	maxMessageSize   int
	clientInfo       ClientInfo
	stderr           io.Writer
	logger           *slog.Logger
}

func defaultOptions() options {
	return options{
		handshakeTimeout: 30 * time.Second,
		callTimeout:      2 * time.Minute,
		shutdownGrace:    2 * time.Second,
		maxMessageSize:   16 * 1024 * 1024,
		clientInfo:       ClientInfo{Name: "mcpchat", Version: "0.1.0"},
		stderr:           os.Stderr,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Client.
type Option func(*options)

// WithHandshakeTimeout bounds initialize plus the first tools/list.
// Zero disables the bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithCallTimeout bounds each Invoke. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithShutdownGrace sets how long Close waits for the process to exit
// after stdin is closed before killing it.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) { o.shutdownGrace = d }
}

// WithMaxMessageSize caps a single JSON-RPC line from the backend.
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageSize = n
		}
	}
}

// WithClientInfo sets the name and version sent during initialize.
func WithClientInfo(name, version string) Option {
	return func(o *options) { o.clientInfo = ClientInfo{Name: name, Version: version} }
}

// WithStderr redirects the backend's stderr. Nil discards it.
func WithStderr(w io.Writer) Option {
	return func(o *options) {
		if w == nil {
			w = io.Discard
		}
		o.stderr = w
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
