// Package telegram is the chat transport: a thin long-polling wrapper over
// the Bot API, a session-card presenter, and the bridge that pumps user
// messages through the router into runner streams.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// MessageRef identifies a sent message so it can be edited or deleted.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IncomingMessage is a user message received from the chat.
type IncomingMessage struct {
	ChatID           int64
	MessageID        int
	UserID           int64
	Text             string
	ReplyToMessageID int
	ReplyText        string
}

// CallbackQuery is a button press on an inline keyboard.
type CallbackQuery struct {
	ID        string
	Data      string
	UserID    int64
	ChatID    int64
	MessageID int
}

// Chat is the send/edit surface the bridge needs. Transport implements it;
// tests substitute a recorder.
type Chat interface {
	Send(ctx context.Context, text string, markup *telego.InlineKeyboardMarkup) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, markup *telego.InlineKeyboardMarkup) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool)
}

// Transport connects to Telegram via the Bot API using long polling.
type Transport struct {
	bot    *telego.Bot
	chatID int64
	log    *slog.Logger

	messages  chan IncomingMessage
	callbacks chan CallbackQuery

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewTransport builds a transport bound to one chat. chatID zero accepts
// messages from any chat.
func NewTransport(token string, chatID int64, log *slog.Logger) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Transport{
		bot:       bot,
		chatID:    chatID,
		log:       log,
		messages:  make(chan IncomingMessage, 16),
		callbacks: make(chan CallbackQuery, 16),
	}, nil
}

// Messages is the stream of incoming user messages.
func (t *Transport) Messages() <-chan IncomingMessage { return t.messages }

// Callbacks is the stream of inline keyboard presses.
func (t *Transport) Callbacks() <-chan CallbackQuery { return t.callbacks }

// Start begins long polling for updates. Stop cancels the polling context
// and waits for the goroutine to exit.
func (t *Transport) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel
	t.pollDone = make(chan struct{})

	updates, err := t.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	t.log.Info("telegram.connected", "username", t.bot.Username())

	go func() {
		defer close(t.pollDone)
		defer close(t.messages)
		defer close(t.callbacks)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					t.log.Info("telegram.updates.closed")
					return
				}
				t.dispatch(pollCtx, update)
			}
		}
	}()

	return nil
}

func (t *Transport) dispatch(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if t.chatID != 0 && msg.Chat.ID != t.chatID {
			t.log.Debug("telegram.message.foreign_chat", "chat_id", msg.Chat.ID)
			return
		}
		in := IncomingMessage{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Text:      msg.Text,
		}
		if msg.From != nil {
			in.UserID = msg.From.ID
		}
		if msg.ReplyToMessage != nil {
			in.ReplyToMessageID = msg.ReplyToMessage.MessageID
			in.ReplyText = msg.ReplyToMessage.Text
		}
		select {
		case t.messages <- in:
		case <-ctx.Done():
		}

	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		cb := CallbackQuery{
			ID:     q.ID,
			Data:   q.Data,
			UserID: q.From.ID,
		}
		if q.Message != nil {
			cb.ChatID = q.Message.GetChat().ID
			cb.MessageID = q.Message.GetMessageID()
		}
		select {
		case t.callbacks <- cb:
		case <-ctx.Done():
		}

	default:
		t.log.Debug("telegram.update.skipped", "update_id", update.UpdateID)
	}
}

// Stop shuts down polling and waits for the goroutine so Telegram releases
// the getUpdates lock before a new instance starts.
func (t *Transport) Stop() {
	if t.pollCancel != nil {
		t.pollCancel()
	}
	if t.pollDone != nil {
		select {
		case <-t.pollDone:
		case <-time.After(10 * time.Second):
			t.log.Warn("telegram.poll.shutdown_timeout")
		}
	}
}

// Send posts a new message to the configured chat.
func (t *Transport) Send(ctx context.Context, text string, markup *telego.InlineKeyboardMarkup) (MessageRef, error) {
	msg := tu.Message(tu.ID(t.chatID), text)
	if markup != nil {
		msg = msg.WithReplyMarkup(markup)
	}
	sent, err := t.bot.SendMessage(ctx, msg)
	if err != nil {
		return MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text and keyboard of a previously sent message.
func (t *Transport) Edit(ctx context.Context, ref MessageRef, text string, markup *telego.InlineKeyboardMarkup) (MessageRef, error) {
	_, err := t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:      tu.ID(ref.ChatID),
		MessageID:   ref.MessageID,
		Text:        text,
		ReplyMarkup: markup,
	})
	if err != nil {
		return ref, fmt.Errorf("edit message %d: %w", ref.MessageID, err)
	}
	return ref, nil
}

// Delete removes a message. Missing messages are not an error.
func (t *Transport) Delete(ctx context.Context, ref MessageRef) bool {
	err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(ref.ChatID),
		MessageID: ref.MessageID,
	})
	if err != nil {
		t.log.Debug("telegram.delete.failed", "message_id", ref.MessageID, "error", err)
		return false
	}
	return true
}

// AnswerCallback acknowledges a button press. Failures are logged only.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) {
	err := t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		t.log.Warn("telegram.callback.answer_failed", "error", err)
	}
}
