package liaison

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takopi-dev/takopi/internal/coordination"
	"github.com/takopi-dev/takopi/internal/model"
)

// fakeTmux scripts multiplexer behavior for the poll loop.
type fakeTmux struct {
	mu         sync.Mutex
	hasSession bool
	failNew    bool
	failSend   bool
	capture    func() string
	sent       []string
}

func (f *fakeTmux) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch args[0] {
	case "new-session":
		if f.failNew {
			return nil, errors.New("tmux: server not running")
		}
		f.hasSession = true
		return nil, nil
	case "has-session":
		if !f.hasSession {
			return nil, errors.New("no such session")
		}
		return nil, nil
	case "capture-pane":
		if f.capture == nil {
			return nil, nil
		}
		return []byte(f.capture()), nil
	case "send-keys":
		if f.failSend {
			return nil, errors.New("send failed")
		}
		f.sent = append(f.sent, args[3])
		return nil, nil
	case "kill-session":
		f.hasSession = false
		return nil, nil
	}
	return nil, errors.New("unexpected tmux command")
}

func (f *fakeTmux) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestRunner(t *testing.T, fake *fakeTmux, captain bool) *Runner {
	t.Helper()
	r, err := New(Config{
		CoordinationFolder: t.TempDir(),
		PollInterval:       5 * time.Millisecond,
		CaptainMode:        captain,
	})
	require.NoError(t, err)
	r.tmux = &Tmux{run: fake.run, log: r.log}
	return r
}

func await[T model.Event](t *testing.T, ch <-chan model.Event, match func(T) bool) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event stream closed before expected event")
			}
			if typed, is := ev.(T); is && (match == nil || match(typed)) {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func drain(ch <-chan model.Event) {
	for range ch {
	}
}

func TestShellEscape(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "''"},
		{"simple", "simple"},
		{"a/b-c.d=e_f", "a/b-c.d=e_f"},
		{"has space", "'has space'"},
		{"don't", `'don'"'"'t'`},
		{"a;b", "'a;b'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShellEscape(tt.in), tt.in)
	}
}

func TestRunRestoreFailure(t *testing.T) {
	fake := &fakeTmux{hasSession: false}
	r := newTestRunner(t, fake, true)

	// A session file exists but the multiplexer session is gone.
	require.NoError(t, r.store.Save(&Session{
		SessionID:   "liaison_abc",
		TmuxSession: "takopi_liaison_abc",
		Panes: []*Pane{{
			PaneID: "liaison_brain", SessionName: "takopi_liaison_abc",
			Engine: "claude", Role: "liaison",
		}},
	}))

	ch, err := r.Run(context.Background(), "continue", &model.ResumeToken{Engine: EngineID, Value: "liaison_abc"})
	require.NoError(t, err)

	done := await[model.Completed](t, ch, nil)
	assert.False(t, done.OK)
	assert.True(t, strings.HasPrefix(done.Error, "Failed to restore liaison session"), done.Error)
	drain(ch)
}

func TestRunCreateSessionFailure(t *testing.T) {
	fake := &fakeTmux{failNew: true}
	r := newTestRunner(t, fake, true)

	ch, err := r.Run(context.Background(), "hi", nil)
	require.NoError(t, err)

	done := await[model.Completed](t, ch, nil)
	assert.False(t, done.OK)
	assert.Equal(t, "Failed to create tmux session", done.Error)
	drain(ch)
}

func TestRunCompletionMarker(t *testing.T) {
	fake := &fakeTmux{capture: func() string { return "building...\nTask completed\n" }}
	r := newTestRunner(t, fake, false)

	ch, err := r.Run(context.Background(), "do the thing", nil)
	require.NoError(t, err)

	started := await[model.Started](t, ch, nil)
	assert.True(t, strings.HasPrefix(started.Resume.Value, "liaison_"))
	assert.Equal(t, "takopi_"+started.Resume.Value, started.Meta["tmux_session"])

	activity := await[model.ActionEvent](t, ch, func(e model.ActionEvent) bool {
		return e.Action.Kind == model.ActionPaneActivity
	})
	assert.Contains(t, activity.Action.Detail["output_preview"], "Task completed")

	done := await[model.Completed](t, ch, nil)
	assert.True(t, done.OK)
	assert.Contains(t, done.Answer, "Task completed")
	require.NotNil(t, done.Resume)
	assert.Equal(t, started.Resume.Value, done.Resume.Value)
	drain(ch)

	// The brain pane got the orchestrator command.
	sent := fake.sentTexts()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[0], "claude -p --system-prompt")
	assert.Contains(t, sent[0], "'do the thing'")
}

func TestCaptainModeSuppressesCompletion(t *testing.T) {
	fake := &fakeTmux{capture: func() string { return "Task completed\n" }}
	r := newTestRunner(t, fake, true)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Run(ctx, "hold the fort", nil)
	require.NoError(t, err)

	await[model.ActionEvent](t, ch, func(e model.ActionEvent) bool {
		return e.Action.Kind == model.ActionPaneActivity
	})

	// Give the loop a few more ticks; it must not complete.
	time.Sleep(50 * time.Millisecond)
	cancel()
	done := await[model.Completed](t, ch, nil)
	assert.False(t, done.OK)
	assert.Equal(t, "cancelled", done.Error)
	drain(ch)
}

func TestQuestionEscalationAndResponse(t *testing.T) {
	fake := &fakeTmux{capture: func() string { return "Should I delete the database?\n" }}
	r := newTestRunner(t, fake, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Run(ctx, "clean up", nil)
	require.NoError(t, err)

	req := await[model.InputRequest](t, ch, nil)
	assert.Equal(t, model.SourceSubagent, req.Source)
	assert.Equal(t, model.UrgencyHigh, req.Urgency)
	assert.Contains(t, req.Context, "claude")
	assert.Contains(t, req.Question, "delete the database")

	r.HandleInputResponse(model.InputResponse{
		Engine: EngineID, RequestID: req.RequestID,
		Response: "no, keep it", Responder: model.ResponderUser,
	})

	note := await[model.ActionEvent](t, ch, func(e model.ActionEvent) bool {
		return e.Action.Kind == model.ActionNote && strings.HasPrefix(e.Action.Title, "Sent response")
	})
	assert.Equal(t, "no, keep it", note.Action.Detail["response"])
	assert.Contains(t, fake.sentTexts(), "no, keep it")

	cancel()
	drain(ch)
}

func TestAutoResponse(t *testing.T) {
	fake := &fakeTmux{capture: func() string { return "Run tests? y/n\n" }}
	r := newTestRunner(t, fake, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Run(ctx, "test it", nil)
	require.NoError(t, err)

	note := await[model.ActionEvent](t, ch, func(e model.ActionEvent) bool {
		return e.Action.Kind == model.ActionNote && strings.HasPrefix(e.Action.Title, "Auto-responded")
	})
	assert.Equal(t, "Auto-responded: y", note.Action.Title)

	// The answer lands in the pane asynchronously.
	require.Eventually(t, func() bool {
		for _, s := range fake.sentTexts() {
			if s == "y" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	drain(ch)
}

func TestInboxDispatchToBrain(t *testing.T) {
	fake := &fakeTmux{}
	r := newTestRunner(t, fake, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := r.Run(ctx, "standby", nil)
	require.NoError(t, err)

	started := await[model.Started](t, ch, nil)

	other, err := coordination.New(r.cfg.CoordinationFolder, "liaison_other", nil)
	require.NoError(t, err)
	require.NoError(t, other.AskLiaison(started.Resume.Value, "what port is the API on?", ""))

	note := await[model.ActionEvent](t, ch, func(e model.ActionEvent) bool {
		return strings.HasPrefix(e.Action.Title, "Coordination message")
	})
	assert.Equal(t, "Coordination message from liaison_other", note.Action.Title)
	assert.Contains(t, fake.sentTexts(), "NEW USER REQUEST: what port is the API on?")

	cancel()
	drain(ch)
}

func TestTmuxSessionCrashMidRun(t *testing.T) {
	fake := &fakeTmux{}
	r := newTestRunner(t, fake, true)

	ch, err := r.Run(context.Background(), "work", nil)
	require.NoError(t, err)
	await[model.Started](t, ch, nil)

	fake.mu.Lock()
	fake.hasSession = false
	fake.mu.Unlock()

	done := await[model.Completed](t, ch, nil)
	assert.False(t, done.OK)
	assert.Equal(t, "Tmux session crashed", done.Error)
	drain(ch)
}

func TestSendKeysEscaping(t *testing.T) {
	fake := &fakeTmux{hasSession: true}
	tm := &Tmux{run: fake.run, log: slog.Default()}

	require.NoError(t, tm.SendKeys(context.Background(), "s:0.0", `a\b;c`))
	require.Equal(t, []string{`a\\b\;c`}, fake.sentTexts())
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	require.NoError(t, err)

	sess := &Session{
		SessionID:          "liaison_xyz",
		TmuxSession:        "takopi_liaison_xyz",
		CreatedAt:          time.Now().Truncate(time.Second),
		CoordinationFolder: "/tmp/coord",
		Panes: []*Pane{
			{PaneID: "liaison_brain", SessionName: "takopi_liaison_xyz", Engine: "claude", Role: "liaison"},
			{PaneID: "worker_1", SessionName: "takopi_liaison_xyz", WindowIndex: 0, PaneIndex: 1, Engine: "codex", Role: "worker", SubagentResume: "sess-1"},
		},
	}
	require.NoError(t, store.Save(sess))

	got, err := store.Load("liaison_xyz")
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.Equal(t, sess.TmuxSession, got.TmuxSession)
	require.Len(t, got.Panes, 2)
	assert.Equal(t, "worker_1", got.Panes[1].PaneID)
	assert.Equal(t, "sess-1", got.Panes[1].SubagentResume)
	assert.Equal(t, "takopi_liaison_xyz:0.1", got.Panes[1].Target())

	require.NoError(t, store.Remove("liaison_xyz"))
	_, err = store.Load("liaison_xyz")
	assert.Error(t, err)
	// Removing again is fine.
	require.NoError(t, store.Remove("liaison_xyz"))
}

func TestResumeFormatExtractRoundTrip(t *testing.T) {
	r, err := New(Config{CoordinationFolder: t.TempDir()})
	require.NoError(t, err)

	token := model.ResumeToken{Engine: EngineID, Value: "liaison_12ab"}
	line := r.FormatResume(token)
	got, ok := r.ExtractResume("answer text\n" + line + "\n")
	require.True(t, ok)
	assert.Equal(t, token, got)

	_, ok = r.ExtractResume("kimi --session nope")
	assert.False(t, ok)
}

func TestPollLoopRefreshesHeartbeat(t *testing.T) {
	fake := &fakeTmux{capture: func() string { return "working away" }}
	r := newTestRunner(t, fake, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := r.Run(ctx, "keep the swarm alive", nil)
	require.NoError(t, err)

	started := await[model.Started](t, events, nil)
	self := started.Resume.Value

	// The registry entry must keep its liveness fresh while the run polls,
	// so other liaisons still see this one in get_active after 60 s.
	statePath := filepath.Join(r.cfg.CoordinationFolder, "state", "active_liaisons.json")
	type entry struct {
		StartedAt     time.Time `json:"started_at"`
		LastHeartbeat time.Time `json:"last_heartbeat"`
	}
	require.Eventually(t, func() bool {
		data, readErr := os.ReadFile(statePath)
		if readErr != nil {
			return false
		}
		var reg struct {
			Liaisons map[string]entry `json:"liaisons"`
		}
		if json.Unmarshal(data, &reg) != nil {
			return false
		}
		info, ok := reg.Liaisons[self]
		return ok && info.LastHeartbeat.After(info.StartedAt)
	}, 5*time.Second, 10*time.Millisecond, "heartbeat never advanced past registration")

	cancel()
	await[model.Completed](t, events, nil)
	drain(events)
}
