package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/sync/errgroup"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/progress"
	"github.com/takopi-dev/takopi/internal/router"
	"github.com/takopi-dev/takopi/internal/runner"
)

const defaultEditInterval = 1500 * time.Millisecond

// BridgeConfig wires the bridge to its collaborators.
type BridgeConfig struct {
	Chat      Chat
	Messages  <-chan IncomingMessage
	Callbacks <-chan CallbackQuery

	// Route picks the engine for a message.
	Route func(text, replyText string) router.Decision

	// Build constructs a runner for the routed engine.
	Build func(engine model.EngineID) (runner.Runner, error)

	// EditInterval throttles card edits while a run streams events.
	EditInterval time.Duration

	Logger *slog.Logger
}

// Bridge pumps user messages through the router into runner event streams
// and edits one session card per run in place.
type Bridge struct {
	cfg BridgeConfig
	log *slog.Logger

	mu     sync.Mutex
	tasks  map[int]*runTask    // card message id -> task
	inputs map[string]*runTask // pending request id -> task
}

// runTask is one in-flight (or just-finished) run and its card.
type runTask struct {
	engine model.EngineID
	run    runner.Runner
	input  runner.InputHandler // nil when the runner takes no answers
	cancel context.CancelFunc

	mu              sync.Mutex
	card            *progress.Card
	ref             MessageRef
	expanded        bool
	awaitingAnswer  string // request id waiting for a reply-message answer
	finished        bool
	startedAt       time.Time
	pendingRequests []string
}

// NewBridge builds a bridge. Route, Build, Chat, and the two input streams
// are required.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.EditInterval <= 0 {
		cfg.EditInterval = defaultEditInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		log:    log,
		tasks:  map[int]*runTask{},
		inputs: map[string]*runTask{},
	}
}

// Run drives the bridge until ctx is cancelled or both input streams close.
// Independent runs are scheduled concurrently; each run's events flow in
// emission order into its own card.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	messages := b.cfg.Messages
	callbacks := b.cfg.Callbacks

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-messages:
				if !ok {
					messages = nil
					if callbacks == nil {
						return nil
					}
					continue
				}
				b.handleMessage(ctx, g, msg)
			case q, ok := <-callbacks:
				if !ok {
					callbacks = nil
					if messages == nil {
						return nil
					}
					continue
				}
				b.handleCallback(ctx, g, q)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Bridge) handleMessage(ctx context.Context, g *errgroup.Group, msg IncomingMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if text == "/cancel" {
		b.cancelAll()
		return
	}

	// A reply to a card that is waiting on a question is the answer.
	if msg.ReplyToMessageID != 0 {
		if t := b.taskByMessage(msg.ReplyToMessageID); t != nil && b.deliverAnswer(ctx, t, text) {
			return
		}
	}
	if t := b.soleAwaitingTask(); t != nil && b.deliverAnswer(ctx, t, text) {
		return
	}

	decision := b.cfg.Route(text, msg.ReplyText)
	b.startRun(ctx, g, decision, decision.Prompt)
}

func (b *Bridge) startRun(ctx context.Context, g *errgroup.Group, decision router.Decision, prompt string) {
	r, err := b.cfg.Build(decision.Engine)
	if err != nil {
		b.log.Error("bridge.build.failed", "engine", decision.Engine, "error", err)
		if _, sendErr := b.cfg.Chat.Send(ctx, "⚠ "+err.Error(), nil); sendErr != nil {
			b.log.Warn("bridge.send.failed", "error", sendErr)
		}
		return
	}

	t := &runTask{
		engine:    decision.Engine,
		run:       r,
		card:      progress.NewCard(),
		startedAt: time.Now(),
	}
	if handler, ok := r.(runner.InputHandler); ok {
		t.input = handler
	}

	text, markup := b.renderLocked(t)
	ref, err := b.cfg.Chat.Send(ctx, text, markup)
	if err != nil {
		b.log.Error("bridge.send.failed", "engine", decision.Engine, "error", err)
		return
	}
	t.ref = ref

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	b.mu.Lock()
	b.tasks[ref.MessageID] = t
	b.mu.Unlock()

	if decision.SuggestMultiAgent && decision.Engine != "liaison" {
		b.log.Info("bridge.route.multi_agent_suggested", "engine", decision.Engine)
	}

	g.Go(func() error {
		defer cancel()
		b.pumpRun(runCtx, t, prompt, decision.Resume)
		return nil
	})
}

func (b *Bridge) pumpRun(ctx context.Context, t *runTask, prompt string, resume *model.ResumeToken) {
	events, err := t.run.Run(ctx, prompt, resume)
	if err != nil {
		b.log.Error("bridge.run.failed", "engine", t.engine, "error", err)
		t.mu.Lock()
		t.card.Observe(model.Completed{Engine: t.engine, OK: false, Error: err.Error()})
		t.finished = true
		t.mu.Unlock()
		b.redraw(context.WithoutCancel(ctx), t)
		return
	}

	ticker := time.NewTicker(b.cfg.EditInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.mu.Lock()
				t.finished = true
				t.mu.Unlock()
				b.clearTaskInputs(t)
				// The run context may already be cancelled; the final edit
				// must still go out.
				b.redraw(context.WithoutCancel(ctx), t)
				return
			}
			t.mu.Lock()
			t.card.Observe(ev)
			t.mu.Unlock()
			switch e := ev.(type) {
			case model.InputRequest:
				b.mu.Lock()
				b.inputs[e.RequestID] = t
				b.mu.Unlock()
				t.mu.Lock()
				t.pendingRequests = append(t.pendingRequests, e.RequestID)
				t.mu.Unlock()
				b.redraw(ctx, t)
				dirty = false
			default:
				dirty = true
			}
		case <-ticker.C:
			if dirty {
				b.redraw(ctx, t)
				dirty = false
			}
		}
	}
}

// renderLocked snapshots the card under the task lock and renders it.
func (b *Bridge) renderLocked(t *runTask) (string, *telego.InlineKeyboardMarkup) {
	t.mu.Lock()
	snap := t.card.Snapshot()
	expanded := t.expanded
	startedAt := t.startedAt
	t.mu.Unlock()

	resumeLine := ""
	if snap.Resume != nil {
		resumeLine = t.run.FormatResume(*snap.Resume)
	}
	return RenderCard(snap, time.Since(startedAt), expanded, resumeLine)
}

func (b *Bridge) redraw(ctx context.Context, t *runTask) {
	text, markup := b.renderLocked(t)
	t.mu.Lock()
	ref := t.ref
	t.mu.Unlock()
	if ref.MessageID == 0 {
		return
	}
	if _, err := b.cfg.Chat.Edit(ctx, ref, text, markup); err != nil {
		b.log.Debug("bridge.edit.failed", "message_id", ref.MessageID, "error", err)
	}
}

func (b *Bridge) cancelAll() {
	b.mu.Lock()
	tasks := make([]*runTask, 0, len(b.tasks))
	for _, t := range b.tasks {
		tasks = append(tasks, t)
	}
	b.mu.Unlock()
	for _, t := range tasks {
		b.cancelTask(t)
	}
}

func (b *Bridge) cancelTask(t *runTask) {
	t.mu.Lock()
	finished := t.finished
	t.card.Cancel()
	t.mu.Unlock()
	if !finished && t.cancel != nil {
		t.cancel()
	}
}

func (b *Bridge) taskByMessage(messageID int) *runTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tasks[messageID]
}

func (b *Bridge) taskByRequest(requestID string) *runTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputs[requestID]
}

// soleAwaitingTask returns the task waiting for a typed answer when exactly
// one is, so a bare (non-reply) message can still reach it.
func (b *Bridge) soleAwaitingTask() *runTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	var found *runTask
	for _, t := range b.tasks {
		t.mu.Lock()
		awaiting := t.awaitingAnswer != ""
		t.mu.Unlock()
		if awaiting {
			if found != nil {
				return nil
			}
			found = t
		}
	}
	return found
}

// deliverAnswer routes a typed answer to the task's awaited request.
// Returns false when the task is not waiting for one.
func (b *Bridge) deliverAnswer(ctx context.Context, t *runTask, text string) bool {
	t.mu.Lock()
	requestID := t.awaitingAnswer
	t.awaitingAnswer = ""
	t.mu.Unlock()
	if requestID == "" || t.input == nil {
		return false
	}

	t.input.HandleInputResponse(model.InputResponse{
		Engine:    t.engine,
		RequestID: requestID,
		Response:  text,
		Responder: model.ResponderUser,
	})
	b.clearInput(t, requestID)
	b.redraw(ctx, t)
	return true
}

func (b *Bridge) clearInput(t *runTask, requestID string) {
	b.mu.Lock()
	delete(b.inputs, requestID)
	b.mu.Unlock()
	t.mu.Lock()
	t.card.ClearInput(requestID)
	t.mu.Unlock()
}

func (b *Bridge) clearTaskInputs(t *runTask) {
	t.mu.Lock()
	pending := t.pendingRequests
	t.pendingRequests = nil
	t.mu.Unlock()
	b.mu.Lock()
	for _, id := range pending {
		delete(b.inputs, id)
	}
	b.mu.Unlock()
}

func (b *Bridge) handleCallback(ctx context.Context, g *errgroup.Group, q CallbackQuery) {
	if action, requestID, ok := ParseInputCallback(q.Data); ok {
		b.handleInputCallback(ctx, q, action, requestID)
		return
	}

	t := b.taskByMessage(q.MessageID)
	if t == nil {
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "This run is no longer active.", true)
		return
	}

	switch q.Data {
	case CallbackCancel:
		b.cancelTask(t)
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "Cancelling...", false)

	case CallbackPause:
		// Pause stops the subprocess but keeps the resume token on the card,
		// so Continue can pick the session back up.
		b.cancelTask(t)
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "Paused. Use Resume to continue.", false)

	case CallbackExpand:
		t.mu.Lock()
		t.expanded = !t.expanded
		t.mu.Unlock()
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "", false)
		b.redraw(ctx, t)

	case CallbackContinue:
		b.continueRun(ctx, g, q, t)

	default:
		b.log.Debug("bridge.callback.unknown", "data", q.Data)
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "", false)
	}
}

func (b *Bridge) continueRun(ctx context.Context, g *errgroup.Group, q CallbackQuery, t *runTask) {
	t.mu.Lock()
	finished := t.finished
	resume := t.card.Snapshot().Resume
	t.mu.Unlock()
	if !finished {
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "Still running.", false)
		return
	}
	if resume == nil {
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "No session to resume.", true)
		return
	}
	b.cfg.Chat.AnswerCallback(ctx, q.ID, "Resuming...", false)
	b.startRun(ctx, g, router.Decision{
		Engine: resume.Engine,
		Reason: router.ReasonResume,
		Resume: resume,
		Prompt: "continue",
	}, "continue")
}

func (b *Bridge) handleInputCallback(ctx context.Context, q CallbackQuery, action, requestID string) {
	t := b.taskByRequest(requestID)
	if t == nil {
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "Request no longer active.", true)
		return
	}

	switch action {
	case "answer":
		t.mu.Lock()
		t.awaitingAnswer = requestID
		t.mu.Unlock()
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "Reply to the card with your answer.", true)

	case "auto":
		// Skip: drop the question and let the liaison's own policy (or its
		// timeout) settle it.
		b.log.Info("bridge.input.auto", "request_id", requestID)
		b.clearInput(t, requestID)
		b.cfg.Chat.AnswerCallback(ctx, q.ID, "Letting liaison decide...", false)
		b.redraw(ctx, t)
	}
}
