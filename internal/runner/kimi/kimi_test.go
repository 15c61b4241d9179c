package kimi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/takopi-dev/takopi/internal/runner"
)

func TestBuildArgs(t *testing.T) {
	args := buildArgs("fix the bug", "sess-1", runner.Options{Model: "k2"})
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json",
		"--session", "sess-1", "--model", "k2", "-p", "fix the bug",
	}, args)

	fresh := buildArgs("hi", "", runner.Options{})
	assert.Equal(t, []string{"--print", "--output-format", "stream-json", "-p", "hi"}, fresh)
}

func TestResumeRegex(t *testing.T) {
	tests := []struct {
		line  string
		token string
	}{
		{"kimi --session abc123", "abc123"},
		{"  `kimi --session abc123`  ", "abc123"},
		{"kimi -S short", "short"},
		{"KIMI --session upper", "upper"},
		{"run kimi --session nope", ""},
		{"kimi --model k2", ""},
	}
	for _, tt := range tests {
		m := resumeRe.FindStringSubmatch(tt.line)
		if tt.token == "" {
			assert.Nil(t, m, tt.line)
			continue
		}
		if assert.NotNil(t, m, tt.line) {
			assert.Equal(t, tt.token, m[resumeRe.SubexpIndex("token")], tt.line)
		}
	}
}
