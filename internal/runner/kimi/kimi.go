// Package kimi wires the Kimi CLI as a backend engine. Kimi speaks the
// OpenAI-style role-tagged stream and echoes its session in assistant text
// rather than emitting an explicit completion record.
package kimi

import (
	"regexp"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/runner"
)

const EngineID model.EngineID = "kimi"

var resumeRe = regexp.MustCompile("(?im)^\\s*`?kimi\\s+(?:--session|-S)\\s+(?P<token>[^`\\s]+)`?\\s*$")

func init() {
	runner.Register(runner.Backend{
		ID:          EngineID,
		Command:     "kimi",
		InstallHint: "npm install -g @moonshot-ai/kimi-cli",
		Build: func(opts runner.Options) (runner.Runner, error) {
			return runner.NewSubprocess(adapter(), opts), nil
		},
	})
}

func adapter() runner.Adapter {
	return runner.Adapter{
		Engine:       EngineID,
		Command:      "kimi",
		ResumeRegex:  resumeRe,
		ResumeFormat: "kimi --session %s",
		BuildArgs:    buildArgs,
		Translate: func(st *runner.StreamState, line []byte) ([]model.Event, error) {
			return runner.TranslateRoleStream(st, line, resumeRe)
		},
	}
}

func buildArgs(prompt, resume string, opts runner.Options) []string {
	args := []string{"--print", "--output-format", "stream-json"}
	if resume != "" {
		args = append(args, "--session", resume)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, "-p", prompt)
}
