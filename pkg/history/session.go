package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbdamask/mcpchat/pkg/llm"
)

// SessionEvent is one line of a session file.
type SessionEvent struct {
	UUID       string      `json:"uuid"`
	ParentUUID string      `json:"parentUuid,omitempty"`
	SessionID  string      `json:"sessionId"`
	Timestamp  string      `json:"timestamp"`
	CWD        string      `json:"cwd"`
	Model      string      `json:"model,omitempty"`
	Message    llm.Message `json:"message"`
}

// SessionManager appends transcript messages to a JSONL file, one event
// per message, each linked to the previous one.
type SessionManager struct {
	SessionID   string
	CurrentUUID string
	FilePath    string
	CWD         string
	Model       string
}

// DefaultDir returns ~/.mcpchat/projects.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(homeDir, ".mcpchat", "projects"), nil
}

// projectDir maps a working directory to its session directory, e.g.
// /home/me/src becomes <base>/-home-me-src.
func projectDir(baseDir, cwd string) string {
	sanitized := strings.ReplaceAll(cwd, string(os.PathSeparator), "-")
	if !strings.HasPrefix(sanitized, "-") {
		sanitized = "-" + sanitized
	}
	return filepath.Join(baseDir, sanitized)
}

// NewSessionManager starts a new session for cwd under baseDir.
func NewSessionManager(baseDir, cwd string) (*SessionManager, error) {
	dir := projectDir(baseDir, cwd)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create project dir: %w", err)
	}

	sessionID := uuid.New().String()
	return &SessionManager{
		SessionID: sessionID,
		FilePath:  filepath.Join(dir, sessionID+".jsonl"),
		CWD:       cwd,
	}, nil
}

// Append writes messages in order. System messages are not recorded.
func (sm *SessionManager) Append(messages ...llm.Message) error {
	f, err := os.OpenFile(sm.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		event := SessionEvent{
			UUID:       uuid.New().String(),
			ParentUUID: sm.CurrentUUID,
			SessionID:  sm.SessionID,
			Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
			CWD:        sm.CWD,
			Model:      sm.Model,
			Message:    msg,
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to write session event: %w", err)
		}
		sm.CurrentUUID = event.UUID
	}
	return nil
}

// Load reads a session file and returns a manager that continues it
// together with the recorded messages.
func Load(path string) (*SessionManager, []llm.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer f.Close()

	sm := &SessionManager{FilePath: path}
	var messages []llm.Message

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var event SessionEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := event.Message.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		messages = append(messages, event.Message)
		sm.SessionID = event.SessionID
		sm.CurrentUUID = event.UUID
		sm.CWD = event.CWD
		sm.Model = event.Model
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read session: %w", err)
	}
	if sm.SessionID == "" {
		sm.SessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}
	return sm, messages, nil
}

// SessionInfo describes a stored session.
type SessionInfo struct {
	ID       string
	Path     string
	Modified time.Time
}

// ListSessions returns the sessions recorded for cwd, newest first.
func ListSessions(baseDir, cwd string) ([]SessionInfo, error) {
	dir := projectDir(baseDir, cwd)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:       strings.TrimSuffix(entry.Name(), ".jsonl"),
			Path:     filepath.Join(dir, entry.Name()),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Modified.After(sessions[j].Modified)
	})
	return sessions, nil
}
