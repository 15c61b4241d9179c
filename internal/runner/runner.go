// Package runner drives backend coding-agent CLIs and translates their
// output into the canonical event stream. Every run emits
// `started (action|input_request|input_response)* completed`: started is
// always first, completed is always last and exactly once, and events reach
// the consumer in emission order.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/takopi-dev/takopi/internal/model"
)

// ErrEngineMismatch is returned when a resume token is handed to a runner for
// a different engine. This is a programmer error, not a runtime condition.
var ErrEngineMismatch = errors.New("resume token engine does not match runner")

// Options carries per-run configuration shared by all backends.
type Options struct {
	// Model overrides the backend's default model when non-empty.
	Model string

	// ExtraArgs are appended to the composed argv before the prompt.
	ExtraArgs []string

	// Dir is the working directory for the spawned process. Empty means
	// inherit the supervisor's.
	Dir string

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Runner executes one prompt against a backend engine and streams canonical
// events back. The returned channel is closed after the terminal Completed.
type Runner interface {
	Engine() model.EngineID

	// FormatResume renders a resume token as the shell command a user would
	// run to continue the session by hand.
	FormatResume(token model.ResumeToken) string

	// ExtractResume scans free text (typically a prior answer) for a resume
	// command echoed by this engine.
	ExtractResume(text string) (model.ResumeToken, bool)

	Run(ctx context.Context, prompt string, resume *model.ResumeToken) (<-chan model.Event, error)
}

// InputHandler is implemented by runners that accept answers to their
// input_request events mid-run. Subprocess runners do not; the liaison does.
type InputHandler interface {
	HandleInputResponse(resp model.InputResponse)
}

// StreamState is the per-run translation state a backend adapter mutates
// while decoding stdout lines. The driver owns it; adapters only read and
// update it inside Translate.
type StreamState struct {
	Factory model.Factory

	// Pending holds open actions keyed by tool-call id.
	Pending map[string]model.Action

	// LastAssistantText is the most recent assistant text segment, used as
	// the answer when the backend has no explicit completion record.
	LastAssistantText string

	// SessionID is the session identity for this run. Set from the resume
	// token, from a backend record, or synthesized.
	SessionID string

	// FoundSession is a resume token discovered in the agent's own text.
	FoundSession *model.ResumeToken

	DidStart         bool
	EmittedCompleted bool

	noteSeq int
}

// NextNoteID returns a fresh id for synthesized note actions.
func (st *StreamState) NextNoteID() string {
	st.noteSeq++
	return st.Factory.Engine + "-note-" + strconv.Itoa(st.noteSeq)
}
