// Package codex wires the Codex CLI as a backend engine. It shares the
// role-tagged stream shape with kimi; argv and resume syntax differ.
package codex

import (
	"regexp"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/runner"
)

const EngineID model.EngineID = "codex"

var resumeRe = regexp.MustCompile("(?im)^\\s*`?codex\\s+(?:exec\\s+)?resume\\s+(?P<token>[^`\\s]+)`?\\s*$")

func init() {
	runner.Register(runner.Backend{
		ID:          EngineID,
		Command:     "codex",
		InstallHint: "npm install -g @openai/codex",
		Build: func(opts runner.Options) (runner.Runner, error) {
			return runner.NewSubprocess(adapter(), opts), nil
		},
	})
}

func adapter() runner.Adapter {
	return runner.Adapter{
		Engine:       EngineID,
		Command:      "codex",
		ResumeRegex:  resumeRe,
		ResumeFormat: "codex exec resume %s",
		BuildArgs:    buildArgs,
		Translate: func(st *runner.StreamState, line []byte) ([]model.Event, error) {
			return runner.TranslateRoleStream(st, line, resumeRe)
		},
	}
}

func buildArgs(prompt, resume string, opts runner.Options) []string {
	args := []string{"exec", "--json"}
	if resume != "" {
		args = append(args, "resume", resume)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, prompt)
}
