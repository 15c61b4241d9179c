package schema

import (
	"encoding/json"
	"fmt"
)

// ClaudeEvent is one record from Claude Code's stream-json output,
// discriminated by its "type" field. Unlike the role-tagged stream, Claude
// emits its own session identity (system/init) and completion (result)
// records.
type ClaudeEvent interface {
	ClaudeType() string
}

// ClaudeSystem announces run metadata; subtype "init" carries the session id.
type ClaudeSystem struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

func (ClaudeSystem) ClaudeType() string { return "system" }

// ClaudeContentBlock is one item of an assistant/user message content list.
type ClaudeContentBlock struct {
	Type      string          `json:"type"` // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeMessageBody struct {
	Content []ClaudeContentBlock `json:"content"`
}

// ClaudeAssistant is an assistant turn; content blocks mix text and tool_use.
type ClaudeAssistant struct {
	Message   claudeMessageBody `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
}

func (ClaudeAssistant) ClaudeType() string { return "assistant" }

// Text concatenates the text blocks of the assistant turn.
func (e ClaudeAssistant) Text() string {
	var out string
	for _, block := range e.Message.Content {
		if block.Type == "text" && block.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += block.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the assistant turn.
func (e ClaudeAssistant) ToolUses() []ClaudeContentBlock {
	var uses []ClaudeContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_use" {
			uses = append(uses, block)
		}
	}
	return uses
}

// ClaudeUser carries tool_result blocks back into the stream.
type ClaudeUser struct {
	Message   claudeMessageBody `json:"message"`
	SessionID string            `json:"session_id,omitempty"`
}

func (ClaudeUser) ClaudeType() string { return "user" }

// ToolResults returns the tool_result blocks of the user turn.
func (e ClaudeUser) ToolResults() []ClaudeContentBlock {
	var results []ClaudeContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_result" {
			results = append(results, block)
		}
	}
	return results
}

// ClaudeResult terminates the stream with the final answer and usage.
type ClaudeResult struct {
	Subtype   string         `json:"subtype"` // "success" or an error subtype
	Result    string         `json:"result"`
	SessionID string         `json:"session_id"`
	IsError   bool           `json:"is_error"`
	Usage     map[string]any `json:"usage,omitempty"`
}

func (ClaudeResult) ClaudeType() string { return "result" }

type claudeTypeProbe struct {
	Type string `json:"type"`
}

// DecodeClaudeLine decodes one Claude stream-json line into its variant.
func DecodeClaudeLine(line []byte) (ClaudeEvent, error) {
	var probe claudeTypeProbe
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("decode claude line: %w", err)
	}
	switch probe.Type {
	case "system":
		var e ClaudeSystem
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode claude system: %w", err)
		}
		return e, nil
	case "assistant":
		var e ClaudeAssistant
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode claude assistant: %w", err)
		}
		return e, nil
	case "user":
		var e ClaudeUser
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode claude user: %w", err)
		}
		return e, nil
	case "result":
		var e ClaudeResult
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode claude result: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("decode claude line: unknown type %q", probe.Type)
	}
}
