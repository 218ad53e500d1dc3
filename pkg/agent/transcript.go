package agent

import (
	"encoding/json"
	"fmt"

	"github.com/jbdamask/mcpchat/pkg/llm"
)

// Transcript is the ordered message history of one conversation. It is
// append-only and owned by a single Agent run at a time; it is not safe
// for concurrent use.
type Transcript struct {
	messages []llm.Message
}

// NewTranscript validates and wraps existing messages.
func NewTranscript(messages ...llm.Message) (*Transcript, error) {
	t := &Transcript{}
	if err := t.Append(messages...); err != nil {
		return nil, err
	}
	return t, nil
}

// Append validates every message and appends them all, or none.
func (t *Transcript) Append(messages ...llm.Message) error {
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", len(t.messages)+i, err)
		}
	}
	t.messages = append(t.messages, messages...)
	return nil
}

// Messages returns a copy of the history.
func (t *Transcript) Messages() []llm.Message {
	out := make([]llm.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Since returns the messages appended after the first n.
func (t *Transcript) Since(n int) []llm.Message {
	if n >= len(t.messages) {
		return nil
	}
	out := make([]llm.Message, len(t.messages)-n)
	copy(out, t.messages[n:])
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

func (t *Transcript) MarshalJSON() ([]byte, error) {
	if t.messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.messages)
}

func (t *Transcript) UnmarshalJSON(data []byte) error {
	var messages []llm.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return err
	}
	fresh := Transcript{}
	if err := fresh.Append(messages...); err != nil {
		return err
	}
	*t = fresh
	return nil
}
