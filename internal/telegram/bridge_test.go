package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/router"
	"github.com/takopi-dev/takopi/internal/runner"
)

type fakeChat struct {
	mu      sync.Mutex
	nextID  int
	sends   []string
	edits   []string
	markups []*telego.InlineKeyboardMarkup
	answers []string
}

func (f *fakeChat) Send(_ context.Context, text string, markup *telego.InlineKeyboardMarkup) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sends = append(f.sends, text)
	f.markups = append(f.markups, markup)
	return MessageRef{ChatID: 1, MessageID: f.nextID}, nil
}

func (f *fakeChat) Edit(_ context.Context, ref MessageRef, text string, markup *telego.InlineKeyboardMarkup) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	f.markups = append(f.markups, markup)
	return ref, nil
}

func (f *fakeChat) AnswerCallback(_ context.Context, _ string, text string, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
}

func (f *fakeChat) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeChat) answered(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.answers {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}

func (f *fakeChat) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// scriptRunner replays a fixed event sequence. With hold set it then waits
// for cancellation before emitting the terminal event, like a real
// subprocess would.
type scriptRunner struct {
	engine    model.EngineID
	events    []model.Event
	hold      bool
	responses chan model.InputResponse
}

func (r *scriptRunner) Engine() model.EngineID { return r.engine }

func (r *scriptRunner) FormatResume(token model.ResumeToken) string {
	return string(r.engine) + " --session " + token.Value
}

func (r *scriptRunner) ExtractResume(string) (model.ResumeToken, bool) {
	return model.ResumeToken{}, false
}

func (r *scriptRunner) HandleInputResponse(resp model.InputResponse) {
	select {
	case r.responses <- resp:
	default:
	}
}

func (r *scriptRunner) Run(ctx context.Context, _ string, _ *model.ResumeToken) (<-chan model.Event, error) {
	ch := make(chan model.Event, 16)
	go func() {
		defer close(ch)
		for _, ev := range r.events {
			ch <- ev
		}
		if r.hold {
			<-ctx.Done()
			ch <- model.Completed{Engine: r.engine, OK: false, Error: "cancelled"}
		}
	}()
	return ch, nil
}

func newTestBridge(t *testing.T, r runner.Runner) (*fakeChat, chan IncomingMessage, chan CallbackQuery) {
	t.Helper()
	chat := &fakeChat{}
	msgs := make(chan IncomingMessage, 4)
	cbs := make(chan CallbackQuery, 4)

	b := NewBridge(BridgeConfig{
		Chat:      chat,
		Messages:  msgs,
		Callbacks: cbs,
		Route: func(text, replyText string) router.Decision {
			return router.Decision{Engine: "kimi", Reason: router.ReasonDefault, Prompt: text}
		},
		Build: func(model.EngineID) (runner.Runner, error) {
			return r, nil
		},
		EditInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("bridge did not shut down")
		}
	})
	return chat, msgs, cbs
}

func TestBridgeHappyPath(t *testing.T) {
	r := &scriptRunner{
		engine: "kimi",
		events: []model.Event{
			model.Started{Engine: "kimi", Resume: model.ResumeToken{Engine: "kimi", Value: "s-1"}},
			model.ActionEvent{
				Engine: "kimi",
				Action: model.Action{ID: "a1", Kind: model.ActionCommand, Title: "ls"},
				Phase:  model.PhaseStarted,
			},
			model.Completed{
				Engine: "kimi",
				OK:     true,
				Answer: "All done.",
				Resume: &model.ResumeToken{Engine: "kimi", Value: "s-1"},
			},
		},
	}
	chat, msgs, _ := newTestBridge(t, r)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 100, Text: "list the files"}

	require.Eventually(t, func() bool { return chat.sendCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		text := chat.lastEdit()
		return strings.Contains(text, "All done.") && strings.Contains(text, "`kimi --session s-1`")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, chat.lastEdit(), "Done")
}

func TestBridgeCancelCallback(t *testing.T) {
	r := &scriptRunner{
		engine: "kimi",
		events: []model.Event{
			model.Started{Engine: "kimi", Resume: model.ResumeToken{Engine: "kimi", Value: "s-1"}},
		},
		hold: true,
	}
	chat, msgs, cbs := newTestBridge(t, r)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 100, Text: "work forever"}
	require.Eventually(t, func() bool { return chat.sendCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cbs <- CallbackQuery{ID: "cb1", Data: CallbackCancel, ChatID: 1, MessageID: 1}

	require.Eventually(t, func() bool { return chat.answered("Cancelling") }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(chat.lastEdit(), "Cancelled")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeInputAnswerFlow(t *testing.T) {
	r := &scriptRunner{
		engine: "liaison",
		events: []model.Event{
			model.Started{Engine: "liaison", Resume: model.ResumeToken{Engine: "liaison", Value: "liaison_ab"}},
			model.InputRequest{
				Engine:    "liaison",
				RequestID: "req_1",
				Question:  "Which database?",
				Source:    model.SourceSubagent,
				Urgency:   model.UrgencyNormal,
			},
		},
		hold:      true,
		responses: make(chan model.InputResponse, 1),
	}
	chat, msgs, cbs := newTestBridge(t, r)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 100, Text: "set up the service"}
	require.Eventually(t, func() bool {
		return strings.Contains(chat.lastEdit(), "Waiting for input")
	}, 2*time.Second, 5*time.Millisecond)

	cbs <- CallbackQuery{ID: "cb1", Data: AnswerCallbackData("req_1"), ChatID: 1, MessageID: 1}
	require.Eventually(t, func() bool { return chat.answered("Reply to the card") }, 2*time.Second, 5*time.Millisecond)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 101, Text: "postgres", ReplyToMessageID: 1}

	select {
	case resp := <-r.responses:
		assert.Equal(t, "req_1", resp.RequestID)
		assert.Equal(t, "postgres", resp.Response)
		assert.Equal(t, model.ResponderUser, resp.Responder)
	case <-time.After(2 * time.Second):
		t.Fatal("runner never received the answer")
	}

	require.Eventually(t, func() bool {
		return !strings.Contains(chat.lastEdit(), "Waiting for input")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeInputAutoCallback(t *testing.T) {
	r := &scriptRunner{
		engine: "liaison",
		events: []model.Event{
			model.Started{Engine: "liaison", Resume: model.ResumeToken{Engine: "liaison", Value: "liaison_cd"}},
			model.InputRequest{
				Engine:    "liaison",
				RequestID: "req_2",
				Question:  "Proceed?",
				Source:    model.SourceSubagent,
				Urgency:   model.UrgencyLow,
			},
		},
		hold:      true,
		responses: make(chan model.InputResponse, 1),
	}
	chat, msgs, cbs := newTestBridge(t, r)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 100, Text: "do the thing"}
	require.Eventually(t, func() bool {
		return strings.Contains(chat.lastEdit(), "Waiting for input")
	}, 2*time.Second, 5*time.Millisecond)

	cbs <- CallbackQuery{ID: "cb1", Data: AutoCallbackData("req_2"), ChatID: 1, MessageID: 1}

	require.Eventually(t, func() bool { return chat.answered("Letting liaison decide") }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !strings.Contains(chat.lastEdit(), "Waiting for input")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, r.responses, "skip must not synthesize a response")
}

func TestBridgeStaleCallback(t *testing.T) {
	r := &scriptRunner{engine: "kimi"}
	chat, _, cbs := newTestBridge(t, r)

	cbs <- CallbackQuery{ID: "cb1", Data: CallbackCancel, ChatID: 1, MessageID: 99}
	require.Eventually(t, func() bool { return chat.answered("no longer active") }, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeSlashCancel(t *testing.T) {
	r := &scriptRunner{
		engine: "kimi",
		events: []model.Event{
			model.Started{Engine: "kimi", Resume: model.ResumeToken{Engine: "kimi", Value: "s-9"}},
		},
		hold: true,
	}
	chat, msgs, _ := newTestBridge(t, r)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 100, Text: "long task"}
	require.Eventually(t, func() bool { return chat.sendCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	msgs <- IncomingMessage{ChatID: 1, MessageID: 101, Text: "/cancel"}
	require.Eventually(t, func() bool {
		return strings.Contains(chat.lastEdit(), "Cancelled")
	}, 2*time.Second, 5*time.Millisecond)
}
