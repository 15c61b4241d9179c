// Package coordination gives liaisons a shared mailbox and registry over a
// common folder. Cross-process safety comes from advisory exclusive locks on
// sidecar files; message files themselves are immutable once written, so
// readers never lock them.
package coordination

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType classifies a coordination message.
type MessageType string

const (
	TypeInfoShare    MessageType = "info_share"
	TypeQuestion     MessageType = "question"
	TypeTaskClaim    MessageType = "task_claim"
	TypeTaskComplete MessageType = "task_complete"
)

// Message is the unit of inter-liaison communication. An empty ToLiaison
// means broadcast.
type Message struct {
	MessageID   string         `json:"message_id"`
	FromLiaison string         `json:"from_liaison"`
	ToLiaison   string         `json:"to_liaison,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        MessageType    `json:"type"`
	Payload     map[string]any `json:"payload"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// Broadcast reports whether the message has no single addressee.
func (m Message) Broadcast() bool { return m.ToLiaison == "" }

// Expired reports whether the message's expiry has passed.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Filename is the on-disk name: millisecond timestamp then sender, so a
// lexicographic listing is also chronological.
func (m Message) Filename() string {
	return fmt.Sprintf("%013d_%s.json", m.Timestamp.UnixMilli(), m.FromLiaison)
}

// Encode renders the message as indented JSON.
func (m Message) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// DecodeMessage parses a message file.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode coordination message: %w", err)
	}
	return m, nil
}
