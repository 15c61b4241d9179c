package runner

import (
	"regexp"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/schema"
)

// TranslateRoleStream maps one line of an OpenAI-style role-tagged stream
// into canonical events. Kimi and Codex share this shape; only argv and the
// resume regex differ between them.
func TranslateRoleStream(st *StreamState, line []byte, resumeRe *regexp.Regexp) ([]model.Event, error) {
	msg, err := schema.DecodeStreamLine(line)
	if err != nil {
		return nil, err
	}

	events := st.StartIfNeeded()
	switch m := msg.(type) {
	case schema.AssistantMessage:
		if m.Content != "" {
			st.LastAssistantText = m.Content
			st.ScanForResume(resumeRe, m.Content)
		}
		for _, tc := range m.ToolCalls {
			action := DeriveAction(tc.ID, tc.Function.Name, tc.ParseArguments())
			st.Pending[tc.ID] = action
			events = append(events, st.Factory.ActionStarted(action.ID, action.Kind, action.Title, action.Detail))
		}

	case schema.ToolMessage:
		result := m.Text()
		action, ok := st.Pending[m.ToolCallID]
		if ok {
			delete(st.Pending, m.ToolCallID)
		} else {
			// Result with no matching call; keep the feed coherent.
			action = model.Action{ID: m.ToolCallID, Kind: model.ActionTool, Title: "tool"}
		}
		detail := CompletionDetail(action.Detail, m.ToolCallID, result, false)
		events = append(events, st.Factory.ActionCompleted(action.ID, action.Kind, action.Title, true, detail))

	case schema.UserMessage, schema.SystemMessage:
		// Echoed turns carry no actions.
	}
	return events, nil
}
