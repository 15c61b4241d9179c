// Package schema decodes the line-delimited JSON streams the backend CLIs
// write on stdout into tagged record types. Records tolerate unknown fields;
// a malformed line is a recoverable decode error, never fatal.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StreamMessage is a record from an OpenAI-style stream-json conversation,
// discriminated by its "role" field. Kimi and Codex both emit this shape.
type StreamMessage interface {
	Role() string
}

// ToolCallFunction holds the function name and its JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string, parsed lazily
}

// ToolCall is a tool invocation attached to an assistant message.
type ToolCall struct {
	Type     string           `json:"type"` // "function"
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ParseArguments decodes the tool-call arguments string. A malformed
// arguments payload yields an empty map, not an error.
func (tc ToolCall) ParseArguments() map[string]any {
	out := map[string]any{}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// AssistantMessage is an assistant turn, optionally carrying tool calls.
type AssistantMessage struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func (AssistantMessage) Role() string { return "assistant" }

// ToolMessage is a tool execution result. Content may arrive as a plain
// string or as a list of content-part objects.
type ToolMessage struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    json.RawMessage `json:"content"`
}

func (ToolMessage) Role() string { return "tool" }

// Text normalizes the tool result content to a single string.
func (m ToolMessage) Text() string {
	return NormalizeToolContent(m.Content)
}

// UserMessage is a user turn echoed into the stream.
type UserMessage struct {
	Content string `json:"content"`
}

func (UserMessage) Role() string { return "user" }

// SystemMessage may appear in the stream; it carries no actions.
type SystemMessage struct {
	Content string `json:"content"`
}

func (SystemMessage) Role() string { return "system" }

type roleProbe struct {
	Role string `json:"role"`
}

// DecodeStreamLine decodes one JSONL line into its role-tagged variant.
func DecodeStreamLine(line []byte) (StreamMessage, error) {
	var probe roleProbe
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("decode stream line: %w", err)
	}
	switch probe.Role {
	case "assistant":
		var m AssistantMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("decode assistant message: %w", err)
		}
		return m, nil
	case "tool":
		var m ToolMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("decode tool message: %w", err)
		}
		return m, nil
	case "user":
		var m UserMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("decode user message: %w", err)
		}
		return m, nil
	case "system":
		var m SystemMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("decode system message: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("decode stream line: unknown role %q", probe.Role)
	}
}

// NormalizeToolContent flattens tool result content to a string. Accepted
// shapes: JSON string, list of {"text": ...} objects or strings, single
// object with a "text" field, or null.
func NormalizeToolContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		var parts []string
		for _, item := range items {
			var str string
			if err := json.Unmarshal(item, &str); err == nil {
				if str != "" {
					parts = append(parts, str)
				}
				continue
			}
			var obj struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(item, &obj); err == nil && obj.Text != "" {
				parts = append(parts, obj.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}
	return string(raw)
}
