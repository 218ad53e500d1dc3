// Package server exposes the turn loop over HTTP. Conversations are
// stateless on the server: a chat request carries the prior transcript and
// the response ends with the updated one.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jbdamask/mcpchat/pkg/agent"
	"github.com/jbdamask/mcpchat/pkg/llm"
	"github.com/jbdamask/mcpchat/pkg/mcp"
	"github.com/jbdamask/mcpchat/pkg/tools"
	"github.com/jbdamask/mcpchat/pkg/turn"
)

// Event names that are not turn events.
const (
	EventError      = "error"
	EventTranscript = "transcript"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	// Model is a provider.model id; empty selects the default.
	Model    string        `json:"model,omitempty"`
	Messages []llm.Message `json:"messages,omitempty"`
	Message  string        `json:"message"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TranscriptPayload is the data of the final transcript event.
type TranscriptPayload struct {
	Messages []llm.Message `json:"messages"`
}

// ToolInfo is one entry of GET /v1/tools.
type ToolInfo struct {
	Name        string          `json:"name"`
	Backend     string          `json:"backend"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type Options struct {
	// DefaultModel is used when a request names none.
	DefaultModel string
	// Agent is the template for every request's agent. Model is set per
	// request.
	Agent  agent.Config
	Logger *slog.Logger
}

type Server struct {
	providers *llm.Providers
	tools     agent.Dispatcher
	opts      Options
	logger    *slog.Logger
	mux       *http.ServeMux
}

func New(providers *llm.Providers, dispatcher agent.Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		providers: providers,
		tools:     dispatcher,
		opts:      opts,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /v1/tools", s.handleTools)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := s.logger.With("request_id", requestID)

	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	modelID := req.Model
	if modelID == "" {
		modelID = s.opts.DefaultModel
	}
	endpoint, model, err := s.providers.Resolve(modelID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	transcript, err := agent.NewTranscript(req.Messages...)
	if err == nil {
		err = transcript.Append(llm.UserMessage(req.Message))
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid transcript: %v", err), http.StatusBadRequest)
		return
	}

	cfg := s.opts.Agent
	cfg.Model = model
	cfg.Logger = logger
	a := agent.New(endpoint, s.tools, cfg)

	w.Header().Set("X-Request-Id", requestID)
	out := newStream(w)
	logger.Info("chat started", "model", modelID, "messages", transcript.Len())

	id := 0
	for ev, err := range a.Run(r.Context(), transcript) {
		id++
		if err != nil {
			logger.Warn("chat failed", "error", err)
			if sendErr := out.send(id, EventError, ErrorPayload{Kind: ErrorKind(err), Message: err.Error()}); sendErr != nil {
				return
			}
			continue
		}
		if sendErr := out.send(id, string(ev.Type), ev); sendErr != nil {
			logger.Debug("client went away", "error", sendErr)
			return
		}
	}
	if r.Context().Err() != nil {
		return
	}

	id++
	if err := out.send(id, EventTranscript, TranscriptPayload{Messages: transcript.Messages()}); err != nil {
		logger.Debug("failed to send transcript", "error", err)
	}
	logger.Info("chat finished", "messages", transcript.Len())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.providers.Models()
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	writeJSON(w, ids)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	capabilities := s.tools.AllCapabilities()
	out := make([]ToolInfo, 0, len(capabilities))
	for _, c := range capabilities {
		out = append(out, ToolInfo{
			Name:        c.QualifiedName(),
			Backend:     c.Backend,
			Description: c.Description,
			InputSchema: c.InputSchema,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ErrorKind names the category of a run failure for clients.
func ErrorKind(err error) string {
	var invErr *mcp.InvocationError
	var malformed *turn.MalformedToolArgumentsError
	var provider *llm.ProviderError
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, mcp.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, tools.ErrUnknownCapability):
		return "unknown_capability"
	case errors.Is(err, mcp.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.As(err, &invErr):
		return "invocation"
	case mcp.IsProtocolError(err):
		return "protocol"
	case errors.As(err, &malformed):
		return "malformed_arguments"
	case errors.Is(err, turn.ErrMultipleToolCalls),
		errors.Is(err, turn.ErrToolCallHeader),
		errors.Is(err, turn.ErrNoToolCall),
		errors.Is(err, turn.ErrIncompleteStream):
		return "stream"
	case errors.As(err, &provider):
		return "provider"
	default:
		return "internal"
	}
}
