package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/takopi-dev/takopi/internal/model"
)

func TestDeriveAction(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		args  map[string]any
		kind  model.ActionKind
		title string
	}{
		{"shell command", "Shell", map[string]any{"command": "ls -la"}, model.ActionCommand, "ls -la"},
		{"bash variant", "bash_tool", map[string]any{"command": "go vet ./..."}, model.ActionCommand, "go vet ./..."},
		{"write file", "Write", map[string]any{"file_path": "notes.md"}, model.ActionFileChange, "notes.md"},
		{"edit file", "str_replace_editor", map[string]any{"path": "main.go"}, model.ActionFileChange, "main.go"},
		{"web search", "web_search", map[string]any{"query": "golang flock"}, model.ActionWebSearch, "golang flock"},
		{"subagent", "Task", map[string]any{"description": "refactor tests"}, model.ActionSubagent, "refactor tests"},
		{"unknown tool", "crystal_ball", map[string]any{}, model.ActionTool, "crystal_ball"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := DeriveAction("id1", tt.tool, tt.args)
			assert.Equal(t, tt.kind, action.Kind)
			assert.Equal(t, tt.title, action.Title)
			assert.Equal(t, "id1", action.ID)
		})
	}
}

func TestDeriveActionFileChangeDetail(t *testing.T) {
	action := DeriveAction("tc", "Write", map[string]any{"file_path": "notes.md"})
	changes, ok := action.Detail["changes"].([]model.FileChange)
	assert.True(t, ok)
	assert.Equal(t, []model.FileChange{{Path: "notes.md", Kind: "update"}}, changes)
}

func TestCompletionDetail(t *testing.T) {
	base := map[string]any{"tool": "Shell"}
	detail := CompletionDetail(base, "tc_1", "some output", false)
	assert.Equal(t, "Shell", detail["tool"])
	assert.Equal(t, "tc_1", detail["tool_use_id"])
	assert.Equal(t, "some output", detail["result_preview"])
	assert.Equal(t, len("some output"), detail["result_len"])
	assert.Equal(t, false, detail["is_error"])
	// Base is untouched.
	_, leaked := base["tool_use_id"]
	assert.False(t, leaked)
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	long := "héllo wörld héllo wörld"
	out := truncate(long, 10)
	assert.Equal(t, 10, len([]rune(out)))
	assert.Equal(t, "…", string([]rune(out)[9]))
}
