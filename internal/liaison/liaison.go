// Package liaison runs an orchestrating agent inside a terminal multiplexer
// session. A "brain" pane runs a coding-agent CLI with an orchestrator
// prompt; the liaison polls pane output, escalates risky questions to the
// user, auto-answers routine ones, and relays coordination messages from
// other liaisons.
package liaison

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/takopi-dev/takopi/internal/coordination"
	"github.com/takopi-dev/takopi/internal/escalation"
	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/runner"
)

const EngineID model.EngineID = "liaison"

var resumeRe = regexp.MustCompile("(?im)^\\s*`?liaison\\s+--session\\s+(?P<token>[^`\\s]+)`?\\s*$")

var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:Do you want|Would you like|Should I|Can I|May I)\s+.+\?`),
	regexp.MustCompile(`\?\s*$`),
	regexp.MustCompile(`(?:y/n|yes/no|Y/N)\s*[:>]?\s*$`),
	regexp.MustCompile(`(?i)(?:confirm|proceed|continue)\s*\?`),
	regexp.MustCompile(`(?i)Press Enter to continue`),
}

var completionMarkers = []string{
	"task completed",
	"done.",
	"finished.",
	"all tasks complete",
}

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultCaptureLines = 50
	saveEveryTicks      = 20
	previewLines        = 5

	// Idle budgets in ticks. Captain mode keeps the session alive much
	// longer since the brain is expected to sit waiting for direction.
	idleTicksPlain   = 600  // 5 minutes at the default interval
	idleTicksCaptain = 3600 // 30 minutes
)

// Config tunes a liaison runner.
type Config struct {
	// CoordinationFolder roots sessions/, coordination/, state/ and locks/.
	// Defaults to ~/.takopi/liaison.
	CoordinationFolder string

	PollInterval time.Duration
	CaptureLines int

	// BrainCommand is the coding-agent CLI run in the brain pane.
	BrainCommand string
	BrainArgs    []string

	// CaptainMode keeps the session alive past completion markers; the run
	// ends only on explicit cancellation.
	CaptainMode bool

	Policy *escalation.Policy
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.CoordinationFolder == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.CoordinationFolder = filepath.Join(home, ".takopi", "liaison")
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.CaptureLines <= 0 {
		c.CaptureLines = defaultCaptureLines
	}
	if c.BrainCommand == "" {
		c.BrainCommand = "claude"
	}
	if c.Policy == nil {
		c.Policy = escalation.NewPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Runner orchestrates subagents via the multiplexer. It satisfies the same
// outward contract as the subprocess runners plus input-response routing.
type Runner struct {
	cfg   Config
	tmux  *Tmux
	store *SessionStore
	log   *slog.Logger

	responses chan model.InputResponse
}

func init() {
	runner.Register(runner.Backend{
		ID:          EngineID,
		Command:     "tmux",
		InstallHint: "install tmux via your package manager",
		Build: func(opts runner.Options) (runner.Runner, error) {
			return New(Config{Logger: opts.Logger, CaptainMode: true})
		},
	})
}

// New builds a liaison runner, creating the coordination folder layout.
func New(cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()
	store, err := NewSessionStore(filepath.Join(cfg.CoordinationFolder, "sessions"))
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		tmux:      NewTmux(cfg.Logger),
		store:     store,
		log:       cfg.Logger,
		responses: make(chan model.InputResponse, 16),
	}, nil
}

func (r *Runner) Engine() model.EngineID { return EngineID }

func (r *Runner) FormatResume(token model.ResumeToken) string {
	return fmt.Sprintf("liaison --session %s", token.Value)
}

func (r *Runner) ExtractResume(text string) (model.ResumeToken, bool) {
	m := resumeRe.FindStringSubmatch(text)
	if m == nil {
		return model.ResumeToken{}, false
	}
	return model.ResumeToken{Engine: EngineID, Value: m[resumeRe.SubexpIndex("token")]}, true
}

// HandleInputResponse routes a user's answer toward the waiting pane. The
// response is consumed by the poll loop; if the run has ended it is dropped.
func (r *Runner) HandleInputResponse(resp model.InputResponse) {
	select {
	case r.responses <- resp:
	default:
		r.log.Warn("liaison.response.dropped", "request_id", resp.RequestID)
	}
}

// Run starts or resumes a liaison session.
func (r *Runner) Run(ctx context.Context, prompt string, resume *model.ResumeToken) (<-chan model.Event, error) {
	if resume != nil && resume.Engine != EngineID {
		return nil, fmt.Errorf("%w: token for %q handed to %q", runner.ErrEngineMismatch, resume.Engine, EngineID)
	}
	ch := make(chan model.Event, 64)
	go r.loop(ctx, ch, prompt, resume)
	return ch, nil
}

// runState is the per-run mutable state; owned by the loop goroutine.
type runState struct {
	factory     model.Factory
	session     *Session
	pending     map[string]model.InputRequest
	noteSeq     int
	requestSeq  int
	completed   bool
	finalAnswer string
}

func (st *runState) token() model.ResumeToken {
	return model.ResumeToken{Engine: EngineID, Value: st.session.SessionID}
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err) // crypto/rand failure means the platform is broken
	}
	return "liaison_" + hex.EncodeToString(b[:])
}

func (r *Runner) loop(ctx context.Context, ch chan<- model.Event, prompt string, resume *model.ResumeToken) {
	defer close(ch)

	st := &runState{
		factory: model.NewFactory(EngineID),
		pending: map[string]model.InputRequest{},
	}
	emit := func(ev model.Event) { ch <- ev }

	fresh := resume == nil
	if !fresh {
		sess, err := r.store.Load(resume.Value)
		if err != nil || sess.TmuxSession == "" || !r.tmux.HasSession(ctx, sess.TmuxSession) {
			r.log.Warn("liaison.restore.failed", "session_id", resume.Value, "error", err)
			emit(st.factory.CompletedError("Failed to restore liaison session "+resume.Value, resume))
			return
		}
		st.session = sess
		r.log.Info("liaison.restore.success", "session_id", sess.SessionID, "pane_count", len(sess.Panes))
	} else {
		id := newSessionID()
		tmuxName := "takopi_" + id
		if err := r.tmux.NewSession(ctx, tmuxName); err != nil {
			emit(st.factory.CompletedError("Failed to create tmux session", nil))
			return
		}
		st.session = &Session{
			SessionID:          id,
			TmuxSession:        tmuxName,
			CreatedAt:          time.Now(),
			CoordinationFolder: r.cfg.CoordinationFolder,
		}
	}

	token := st.token()
	emit(st.factory.Started(token, "Liaison Agent", map[string]any{
		"tmux_session":        st.session.TmuxSession,
		"coordination_folder": r.cfg.CoordinationFolder,
	}))

	coord, err := coordination.New(r.cfg.CoordinationFolder, st.session.SessionID, r.log)
	if err != nil {
		emit(st.factory.CompletedError("Failed to open coordination folder: "+err.Error(), &token))
		return
	}
	if err := coord.Register(firstLine(prompt)); err != nil {
		r.log.Warn("liaison.register.failed", "error", err)
	}
	defer func() {
		if err := coord.Deregister(); err != nil {
			r.log.Warn("liaison.deregister.failed", "error", err)
		}
	}()

	if fresh {
		if err := r.spawnBrain(ctx, st, prompt); err != nil {
			r.log.Error("liaison.brain.spawn_failed", "error", err)
			emit(st.factory.CompletedError("Failed to spawn liaison brain", &token))
			return
		}
	}
	if err := r.store.Save(st.session); err != nil {
		r.log.Warn("liaison.session.save_failed", "error", err)
	}

	r.pollLoop(ctx, emit, st, coord)
}

func (r *Runner) spawnBrain(ctx context.Context, st *runState, prompt string) error {
	parts := []string{r.cfg.BrainCommand, "-p", "--system-prompt", captainSystemPrompt}
	parts = append(parts, r.cfg.BrainArgs...)
	parts = append(parts, "--", prompt)

	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = ShellEscape(p)
	}

	pane := &Pane{
		PaneID:      "liaison_brain",
		SessionName: st.session.TmuxSession,
		WindowIndex: 0,
		PaneIndex:   0,
		Engine:      "claude",
		Role:        "liaison",
	}
	if err := r.tmux.SendKeys(ctx, pane.Target(), strings.Join(escaped, " ")); err != nil {
		return err
	}
	st.session.Panes = append(st.session.Panes, pane)
	r.log.Info("liaison.brain.spawned", "session", st.session.TmuxSession, "prompt_len", len(prompt))
	return nil
}

func (r *Runner) pollLoop(ctx context.Context, emit func(model.Event), st *runState, coord *coordination.Coordinator) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	maxIdle := idleTicksPlain
	if r.cfg.CaptainMode {
		maxIdle = idleTicksCaptain
	}

	tick := 0
	idle := 0
	for {
		select {
		case <-ctx.Done():
			r.cleanup(st)
			emit(st.factory.CompletedError("cancelled", nil))
			return

		case resp := <-r.responses:
			if ev := r.routeResponse(ctx, st, resp); ev != nil {
				emit(ev)
			}

		case <-ticker.C:
			tick++

			if !r.tmux.HasSession(ctx, st.session.TmuxSession) {
				emit(st.factory.CompletedError("Tmux session crashed", ptr(st.token())))
				return
			}

			for _, m := range coord.Receive() {
				r.dispatchInbound(ctx, emit, st, m)
			}

			hadActivity := false
			for _, pane := range st.session.Panes {
				if r.pollPane(ctx, emit, st, pane) {
					hadActivity = true
				}
			}

			if st.completed {
				emit(st.factory.CompletedOK(st.finalAnswer, ptr(st.token())))
				return
			}

			if hadActivity {
				idle = 0
			} else if idle++; idle > maxIdle {
				emit(st.factory.CompletedError("Liaison timed out waiting for activity", ptr(st.token())))
				return
			}

			if tick%saveEveryTicks == 0 {
				if err := r.store.Save(st.session); err != nil {
					r.log.Warn("liaison.session.save_failed", "error", err)
				}
				// Long runs outlive the 60 s liveness window without this.
				if err := coord.Heartbeat(""); err != nil {
					r.log.Warn("coordination.heartbeat.failed", "error", err)
				}
			}
		}
	}
}

// pollPane captures one pane and reacts to its output. Reports whether the
// pane had new output this tick.
func (r *Runner) pollPane(ctx context.Context, emit func(model.Event), st *runState, pane *Pane) bool {
	out, err := r.tmux.CapturePane(ctx, pane.Target(), r.cfg.CaptureLines)
	if err != nil {
		return false
	}
	sum := sha256.Sum256([]byte(out))
	h := hex.EncodeToString(sum[:])
	if h == pane.lastCaptureHash {
		return false
	}
	pane.lastCaptureHash = h

	st.noteSeq++
	emit(st.factory.ActionCompleted(
		fmt.Sprintf("liaison.pane.%s.%d", pane.PaneID, st.noteSeq),
		model.ActionPaneActivity,
		fmt.Sprintf("%s (%s)", pane.Engine, pane.Role),
		true,
		map[string]any{
			"pane_id":        pane.PaneID,
			"engine":         pane.Engine,
			"role":           pane.Role,
			"output_preview": tailLines(out, previewLines),
			"tmux_target":    pane.Target(),
		},
	))

	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if isQuestion(line) {
			r.handleQuestion(ctx, emit, st, pane, line)
		}
		if isCompletionMarker(line) {
			st.finalAnswer = out
			if !r.cfg.CaptainMode {
				st.completed = true
			}
		}
	}
	return true
}

func (r *Runner) handleQuestion(ctx context.Context, emit func(model.Event), st *runState, pane *Pane, line string) {
	if r.cfg.Policy.ShouldEscalate(line, "") {
		if pane.pendingInputRequest != "" {
			return // one outstanding request per pane
		}
		st.requestSeq++
		requestID := fmt.Sprintf("%s_%d", st.session.SessionID, st.requestSeq)
		urgency := model.Urgency(r.cfg.Policy.AssessUrgency(line, ""))
		ev := st.factory.InputRequest(
			requestID,
			line,
			model.SourceSubagent,
			fmt.Sprintf("From %s in pane %s", pane.Engine, pane.Role),
			urgency,
		)
		st.pending[requestID] = ev
		pane.pendingInputRequest = requestID
		emit(ev)
		return
	}

	auto, ok := r.cfg.Policy.AutoResponse(line, "")
	if !ok {
		return
	}
	target := pane.Target()
	go func() {
		if err := r.tmux.SendKeys(ctx, target, auto); err != nil {
			r.log.Warn("liaison.auto.send_failed", "pane", target, "error", err)
		}
	}()
	st.noteSeq++
	emit(st.factory.Note(
		fmt.Sprintf("liaison.auto.%d", st.noteSeq),
		"Auto-responded: "+auto,
		true,
		map[string]any{"question": line},
	))
}

// dispatchInbound forwards a coordination message to the brain pane as a new
// user request.
func (r *Runner) dispatchInbound(ctx context.Context, emit func(model.Event), st *runState, m coordination.Message) {
	brain := st.findPane("liaison_brain")
	if brain == nil {
		return
	}
	text := messageText(m)
	if err := r.tmux.SendKeys(ctx, brain.Target(), "NEW USER REQUEST: "+text); err != nil {
		r.log.Warn("liaison.inbox.dispatch_failed", "from", m.FromLiaison, "error", err)
		return
	}
	st.noteSeq++
	emit(st.factory.Note(
		fmt.Sprintf("liaison.inbox.%d", st.noteSeq),
		fmt.Sprintf("Coordination message from %s", m.FromLiaison),
		true,
		map[string]any{"type": string(m.Type), "message_id": m.MessageID},
	))
}

func (r *Runner) routeResponse(ctx context.Context, st *runState, resp model.InputResponse) model.Event {
	if _, ok := st.pending[resp.RequestID]; !ok {
		r.log.Warn("liaison.response.unknown_request", "request_id", resp.RequestID)
		return nil
	}
	for _, pane := range st.session.Panes {
		if pane.pendingInputRequest != resp.RequestID {
			continue
		}
		err := r.tmux.SendKeys(ctx, pane.Target(), resp.Response)
		pane.pendingInputRequest = ""
		delete(st.pending, resp.RequestID)

		st.noteSeq++
		if err != nil {
			return st.factory.Note(
				fmt.Sprintf("liaison.input.%d", st.noteSeq),
				fmt.Sprintf("Failed to send response to %s", pane.Engine),
				false,
				map[string]any{"pane_id": pane.PaneID},
			)
		}
		return st.factory.Note(
			fmt.Sprintf("liaison.input.%d", st.noteSeq),
			fmt.Sprintf("Sent response to %s", pane.Engine),
			true,
			map[string]any{"pane_id": pane.PaneID, "response": resp.Response},
		)
	}
	r.log.Warn("liaison.response.unknown_request", "request_id", resp.RequestID)
	return nil
}

// cleanup tears down the multiplexer session and forgets the session file.
// Used on cancellation; idempotent.
func (r *Runner) cleanup(st *runState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tmux.KillSession(ctx, st.session.TmuxSession); err != nil {
		r.log.Warn("liaison.cleanup.kill_failed", "error", err)
	}
	if err := r.store.Remove(st.session.SessionID); err != nil {
		r.log.Warn("liaison.cleanup.remove_failed", "error", err)
	}
}

func (st *runState) findPane(id string) *Pane {
	for _, p := range st.session.Panes {
		if p.PaneID == id {
			return p
		}
	}
	return nil
}

func isQuestion(line string) bool {
	for _, re := range questionPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func isCompletionMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range completionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// tailLines returns the last n non-empty lines of output.
func tailLines(out string, n int) string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func messageText(m coordination.Message) string {
	if q, ok := m.Payload["question"].(string); ok && q != "" {
		return q
	}
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return string(m.Type)
	}
	return string(data)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

func ptr(t model.ResumeToken) *model.ResumeToken { return &t }
