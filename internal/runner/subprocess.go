package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/takopi-dev/takopi/internal/model"
)

const (
	// scanBufMax bounds a single stdout line. Agent CLIs embed whole file
	// contents in tool records, so the default 64K is not enough.
	scanBufMax = 4 << 20

	stderrTailMax = 2000

	// termGrace is how long a cancelled process gets between SIGTERM and
	// SIGKILL.
	termGrace = 5 * time.Second
)

// Adapter is the capability record a backend supplies to the subprocess
// driver. Backends are values, not subclasses: everything engine-specific
// lives in these fields.
type Adapter struct {
	Engine  model.EngineID
	Command string

	// BuildArgs composes argv (without the command itself) for one run.
	// resume is the prior session value, or empty for a fresh session.
	BuildArgs func(prompt, resume string, opts Options) []string

	// Env returns extra environment entries, appended to the parent's.
	Env func(opts Options) []string

	// Stdin returns an initial payload written to the process's stdin, or
	// nil for no payload.
	Stdin func(prompt string) []byte

	// Translate decodes one stdout line into canonical events, mutating the
	// stream state. A returned error is logged and the line dropped.
	Translate func(st *StreamState, line []byte) ([]model.Event, error)

	// ResumeRegex matches a resume command echoed in agent text; it must
	// have a named group `token`.
	ResumeRegex *regexp.Regexp

	// ResumeFormat renders a session value as a user-runnable resume
	// command, e.g. "kimi --session %s".
	ResumeFormat string
}

// StartIfNeeded returns a Started event when the run has not announced one
// yet, synthesizing a session id if the backend never supplied one. The
// driver marks DidStart once the event is sent.
func (st *StreamState) StartIfNeeded() []model.Event {
	if st.DidStart {
		return nil
	}
	if st.SessionID == "" {
		st.SessionID = uuid.NewString()
	}
	token := model.ResumeToken{Engine: st.Factory.Engine, Value: st.SessionID}
	return []model.Event{st.Factory.Started(token, "", nil)}
}

// ScanForResume checks one text segment against the backend's resume regex
// and records the first discovered session token.
func (st *StreamState) ScanForResume(re *regexp.Regexp, text string) {
	if re == nil || st.FoundSession != nil {
		return
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return
	}
	idx := re.SubexpIndex("token")
	if idx < 0 || m[idx] == "" {
		return
	}
	st.FoundSession = &model.ResumeToken{Engine: st.Factory.Engine, Value: m[idx]}
}

// Subprocess runs a backend CLI once per prompt and pumps its JSONL stdout
// through the adapter.
type Subprocess struct {
	adapter Adapter
	opts    Options
}

// NewSubprocess builds a runner from an adapter.
func NewSubprocess(adapter Adapter, opts Options) *Subprocess {
	return &Subprocess{adapter: adapter, opts: opts}
}

func (r *Subprocess) Engine() model.EngineID { return r.adapter.Engine }

func (r *Subprocess) FormatResume(token model.ResumeToken) string {
	return fmt.Sprintf(r.adapter.ResumeFormat, token.Value)
}

func (r *Subprocess) ExtractResume(text string) (model.ResumeToken, bool) {
	re := r.adapter.ResumeRegex
	if re == nil {
		return model.ResumeToken{}, false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return model.ResumeToken{}, false
	}
	idx := re.SubexpIndex("token")
	if idx < 0 || m[idx] == "" {
		return model.ResumeToken{}, false
	}
	return model.ResumeToken{Engine: r.adapter.Engine, Value: m[idx]}, true
}

// Run spawns the backend CLI and returns the event stream. The channel is
// closed after the terminal Completed event.
func (r *Subprocess) Run(ctx context.Context, prompt string, resume *model.ResumeToken) (<-chan model.Event, error) {
	resumeVal := ""
	if resume != nil {
		if resume.Engine != r.adapter.Engine {
			return nil, fmt.Errorf("%w: token for %q handed to %q", ErrEngineMismatch, resume.Engine, r.adapter.Engine)
		}
		resumeVal = resume.Value
	}

	ch := make(chan model.Event, 64)
	go r.pump(ctx, ch, prompt, resumeVal)
	return ch, nil
}

func (r *Subprocess) pump(ctx context.Context, ch chan<- model.Event, prompt, resumeVal string) {
	defer close(ch)

	log := r.opts.logger().With("engine", r.adapter.Engine)
	st := &StreamState{
		Factory:   model.NewFactory(r.adapter.Engine),
		Pending:   map[string]model.Action{},
		SessionID: resumeVal,
	}

	// send enforces the stream contract regardless of what the adapter
	// produces: started exactly once and first, completed exactly once and
	// last, nothing after completed.
	send := func(ev model.Event) {
		if st.EmittedCompleted {
			log.Debug("runner.event.after_completed", "type", ev.EventType())
			return
		}
		switch ev.(type) {
		case model.Started:
			if st.DidStart {
				return
			}
			st.DidStart = true
		case model.Completed:
			st.EmittedCompleted = true
		}
		ch <- ev
	}
	// Terminal path only: a session id is synthesized when a structurally
	// valid record starts the run (StartIfNeeded), never at EOF. An empty
	// stream therefore ends without a session.
	ensureStarted := func() {
		if st.DidStart {
			return
		}
		send(st.Factory.Started(model.ResumeToken{Engine: r.adapter.Engine, Value: st.SessionID}, "", nil))
	}
	finalResume := func() *model.ResumeToken {
		if st.FoundSession != nil {
			return st.FoundSession
		}
		if st.SessionID != "" {
			return &model.ResumeToken{Engine: r.adapter.Engine, Value: st.SessionID}
		}
		return nil
	}

	args := r.adapter.BuildArgs(prompt, resumeVal, r.opts)
	cmd := exec.CommandContext(ctx, r.adapter.Command, args...)
	cmd.Dir = r.opts.Dir
	if r.adapter.Env != nil {
		cmd.Env = append(os.Environ(), r.adapter.Env(r.opts)...)
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = termGrace

	var stderr tailBuffer
	cmd.Stderr = &stderr
	if r.adapter.Stdin != nil {
		if payload := r.adapter.Stdin(prompt); payload != nil {
			cmd.Stdin = strings.NewReader(string(payload))
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ensureStarted()
		send(st.Factory.CompletedError(fmt.Sprintf("failed to start %s: %v", r.adapter.Engine, err), finalResume()))
		return
	}
	if err := cmd.Start(); err != nil {
		ensureStarted()
		send(st.Factory.CompletedError(fmt.Sprintf("failed to start %s: %v", r.adapter.Engine, err), finalResume()))
		return
	}
	log.Info("runner.spawned", "command", r.adapter.Command, "pid", cmd.Process.Pid, "resume", resumeVal != "")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufMax)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		events, terr := r.adapter.Translate(st, []byte(line))
		if terr != nil {
			log.Warn("runner.decode.error", "error", terr)
			continue
		}
		for _, ev := range events {
			if _, isStarted := ev.(model.Started); !isStarted {
				ensureStarted()
			}
			send(ev)
		}
	}
	if serr := scanner.Err(); serr != nil {
		log.Warn("runner.stdout.error", "error", serr)
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		ensureStarted()
		send(st.Factory.CompletedError("cancelled", finalResume()))
		return
	}

	if waitErr != nil {
		rc := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			rc = exitErr.ExitCode()
		}
		ensureStarted()
		detail := map[string]any{"rc": rc}
		if tail := stderr.String(); tail != "" {
			detail["stderr_tail"] = tail
		}
		send(st.Factory.Note(st.NextNoteID(), fmt.Sprintf("%s exited with code %d", r.adapter.Engine, rc), false, detail))
		send(st.Factory.CompletedError(fmt.Sprintf("%s failed (rc=%d).", r.adapter.Engine, rc), finalResume()))
		return
	}

	if !st.EmittedCompleted {
		ensureStarted()
		if resume := finalResume(); resume != nil {
			send(st.Factory.CompletedOK(st.LastAssistantText, resume))
		} else {
			send(st.Factory.CompletedError("finished but no session_id was captured", nil))
		}
	}
}

// tailBuffer keeps the last stderrTailMax bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailMax {
		t.buf = t.buf[len(t.buf)-stderrTailMax:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
