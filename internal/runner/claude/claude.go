// Package claude wires the Claude Code CLI as a backend engine. Unlike the
// role-tagged backends, Claude announces its session in a system/init record
// and terminates the stream with an explicit result record.
package claude

import (
	"regexp"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/runner"
	"github.com/takopi-dev/takopi/internal/schema"
)

const EngineID model.EngineID = "claude"

var resumeRe = regexp.MustCompile("(?im)^\\s*`?claude\\s+(?:--resume|-r)\\s+(?P<token>[^`\\s]+)`?\\s*$")

func init() {
	runner.Register(runner.Backend{
		ID:          EngineID,
		Command:     "claude",
		InstallHint: "npm install -g @anthropic-ai/claude-code",
		Build: func(opts runner.Options) (runner.Runner, error) {
			return runner.NewSubprocess(adapter(), opts), nil
		},
	})
}

func adapter() runner.Adapter {
	return runner.Adapter{
		Engine:       EngineID,
		Command:      "claude",
		ResumeRegex:  resumeRe,
		ResumeFormat: "claude --resume %s",
		BuildArgs:    buildArgs,
		Translate:    translate,
	}
}

func buildArgs(prompt, resume string, opts runner.Options) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if resume != "" {
		args = append(args, "--resume", resume)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, prompt)
}

func translate(st *runner.StreamState, line []byte) ([]model.Event, error) {
	rec, err := schema.DecodeClaudeLine(line)
	if err != nil {
		return nil, err
	}

	switch r := rec.(type) {
	case schema.ClaudeSystem:
		if r.Subtype == "init" && r.SessionID != "" {
			st.SessionID = r.SessionID
		}
		return st.StartIfNeeded(), nil

	case schema.ClaudeAssistant:
		events := st.StartIfNeeded()
		if text := r.Text(); text != "" {
			st.LastAssistantText = text
			st.ScanForResume(resumeRe, text)
		}
		for _, use := range r.ToolUses() {
			action := runner.DeriveAction(use.ID, use.Name, use.Input)
			st.Pending[use.ID] = action
			events = append(events, st.Factory.ActionStarted(action.ID, action.Kind, action.Title, action.Detail))
		}
		return events, nil

	case schema.ClaudeUser:
		events := st.StartIfNeeded()
		for _, res := range r.ToolResults() {
			result := schema.NormalizeToolContent(res.Content)
			action, ok := st.Pending[res.ToolUseID]
			if ok {
				delete(st.Pending, res.ToolUseID)
			} else {
				action = model.Action{ID: res.ToolUseID, Kind: model.ActionTool, Title: "tool"}
			}
			detail := runner.CompletionDetail(action.Detail, res.ToolUseID, result, res.IsError)
			events = append(events, st.Factory.ActionCompleted(action.ID, action.Kind, action.Title, !res.IsError, detail))
		}
		return events, nil

	case schema.ClaudeResult:
		events := st.StartIfNeeded()
		if r.SessionID != "" {
			st.SessionID = r.SessionID
		}
		resume := &model.ResumeToken{Engine: EngineID, Value: st.SessionID}
		completed := model.Completed{
			Engine: EngineID,
			OK:     !r.IsError && r.Subtype == "success",
			Answer: r.Result,
			Resume: resume,
			Usage:  r.Usage,
		}
		if !completed.OK {
			completed.Error = r.Result
			completed.Answer = ""
		}
		return append(events, completed), nil
	}
	return nil, nil
}
