package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// stream writes server-sent events to an HTTP response.
type stream struct {
	w     io.Writer
	flush func()
	mu    sync.Mutex
}

func newStream(w http.ResponseWriter) *stream {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")

	var flushFn func()
	if f, ok := w.(http.Flusher); ok {
		flushFn = f.Flush
	}
	return &stream{w: w, flush: flushFn}
}

// send writes one event with a JSON data line.
func (s *stream) send(id int, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	return s.write(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, event, body))
}

func (s *stream) write(frame string) error {
	if s == nil || s.w == nil {
		return errors.New("stream writer not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}
