package runner

import (
	"strings"

	"github.com/takopi-dev/takopi/internal/model"
)

const titleLimit = 120

// DeriveAction classifies a tool call into an action kind with a
// human-readable title. The detail map always carries the tool name; kind
// specific fields are added on top.
func DeriveAction(id, tool string, args map[string]any) model.Action {
	name := strings.ToLower(tool)
	detail := map[string]any{"tool": tool}

	switch {
	case containsAny(name, "shell", "bash", "exec", "run", "terminal"):
		title := stringArg(args, "command", "cmd", "script")
		if title == "" {
			title = tool
		}
		detail["command"] = title
		return model.Action{ID: id, Kind: model.ActionCommand, Title: truncate(title, titleLimit), Detail: detail}

	case containsAny(name, "edit", "write", "create_file", "apply_patch", "str_replace"):
		path := stringArg(args, "path", "file_path", "filename", "file")
		title := path
		if title == "" {
			title = tool
		}
		detail["changes"] = []model.FileChange{{Path: path, Kind: "update"}}
		return model.Action{ID: id, Kind: model.ActionFileChange, Title: truncate(title, titleLimit), Detail: detail}

	case containsAny(name, "search", "web", "fetch", "browse"):
		title := stringArg(args, "query", "url", "pattern")
		if title == "" {
			title = tool
		}
		detail["query"] = title
		return model.Action{ID: id, Kind: model.ActionWebSearch, Title: truncate(title, titleLimit), Detail: detail}

	case containsAny(name, "task", "agent", "subagent", "dispatch"):
		title := stringArg(args, "description", "prompt", "task")
		if title == "" {
			title = tool
		}
		return model.Action{ID: id, Kind: model.ActionSubagent, Title: truncate(title, titleLimit), Detail: detail}

	default:
		title := tool
		if arg := stringArg(args, "path", "file_path", "query", "command"); arg != "" {
			title = tool + ": " + arg
		}
		return model.Action{ID: id, Kind: model.ActionTool, Title: truncate(title, titleLimit), Detail: detail}
	}
}

// CompletionDetail merges a tool result into an action's detail for the
// completed phase.
func CompletionDetail(base map[string]any, toolUseID, result string, isError bool) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	out["tool_use_id"] = toolUseID
	out["result_preview"] = truncate(result, 200)
	out["result_len"] = len(result)
	out["is_error"] = isError
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
