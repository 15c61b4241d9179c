package telegram

import (
	"fmt"
	"strings"
	"time"

	runewidth "github.com/mattn/go-runewidth"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/takopi-dev/takopi/internal/model"
	"github.com/takopi-dev/takopi/internal/progress"
)

// Callback identifiers used on session cards.
const (
	CallbackCancel   = "cancel"
	CallbackPause    = "pause"
	CallbackExpand   = "expand"
	CallbackContinue = "continue"

	answerPrefix = "answer:"
	autoPrefix   = "auto:"
)

// AnswerCallbackData builds the callback payload for answering a request.
func AnswerCallbackData(requestID string) string { return answerPrefix + requestID }

// AutoCallbackData builds the callback payload for skipping a request.
func AutoCallbackData(requestID string) string { return autoPrefix + requestID }

// ParseInputCallback splits input-request callback data into its action
// ("answer" or "auto") and request id.
func ParseInputCallback(data string) (action, requestID string, ok bool) {
	if rest, found := strings.CutPrefix(data, answerPrefix); found {
		return "answer", rest, true
	}
	if rest, found := strings.CutPrefix(data, autoPrefix); found {
		return "auto", rest, true
	}
	return "", "", false
}

var badgeSymbols = map[model.EngineID]string{
	"claude":  "\U0001F7E3",
	"codex":   "\U0001F7E2",
	"kimi":    "\U0001F535",
	"liaison": "\U0001F7E1",
}

var statusSymbols = map[progress.BadgeStatus]string{
	progress.BadgeActive:  "▶",
	progress.BadgeWaiting: "⏸",
	progress.BadgeDone:    "✓",
	progress.BadgeError:   "✗",
}

var statusLabels = map[progress.CardStatus]string{
	progress.StatusWorking:      "Working",
	progress.StatusWaitingInput: "Waiting for input",
	progress.StatusDone:         "Done",
	progress.StatusError:        "Error",
	progress.StatusCancelled:    "Cancelled",
}

const (
	visibleActivity   = 5
	activityLineWidth = 64
	questionPreview   = 80
)

func formatBadge(b progress.Badge) string {
	color, ok := badgeSymbols[b.Engine]
	if !ok {
		color = "⚫"
	}
	return color + statusSymbols[b.Status] + string(b.Engine)
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	}
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}

func urgencyIndicator(u model.Urgency) string {
	switch u {
	case model.UrgencyHigh:
		return "[!] "
	case model.UrgencyCritical:
		return "[!!] "
	}
	return ""
}

// RenderCard renders the session card text and its inline keyboard.
// resumeLine, when non-empty, is appended to the footer so a reply to the
// finished card can be routed back to the same session.
func RenderCard(state progress.SessionCardState, elapsed time.Duration, expanded bool, resumeLine string) (string, *telego.InlineKeyboardMarkup) {
	multi := len(state.Badges) > 1

	var header []string
	if len(state.Badges) > 0 {
		badges := make([]string, 0, len(state.Badges))
		for _, b := range state.Badges {
			badges = append(badges, formatBadge(b))
		}
		header = append(header, strings.Join(badges, " "))
	}

	label, ok := statusLabels[state.Status]
	if !ok {
		label = string(state.Status)
	}
	status := []string{label}
	if multi {
		status = append(status, fmt.Sprintf("%d agents", len(state.Badges)))
	}
	status = append(status, formatElapsed(elapsed))
	steps := 0
	for _, b := range state.Badges {
		steps += b.Steps
	}
	if steps > 0 {
		status = append(status, fmt.Sprintf("%d steps", steps))
	}
	header = append(header, strings.Join(status, " · "))

	var sections []string
	sections = append(sections, strings.Join(header, "\n"))

	visible := state.Activity
	truncated := false
	if !expanded && len(visible) > visibleActivity {
		truncated = true
		visible = visible[len(visible)-visibleActivity:]
	}
	if len(visible) > 0 {
		lines := make([]string, 0, len(visible)+1)
		for _, item := range visible {
			line := "▸ "
			if multi {
				line += "[" + string(item.Engine) + "] "
			}
			line += item.Text
			lines = append(lines, runewidth.Truncate(line, activityLineWidth, "…"))
		}
		if truncated {
			lines = append(lines, fmt.Sprintf("... (%d more)", len(state.Activity)-visibleActivity))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(state.InputRequests) > 0 {
		lines := []string{"❓ Waiting for input:"}
		for i, inp := range state.InputRequests {
			q := runewidth.Truncate(inp.Request.Question, questionPreview, "...")
			tag := ""
			if multi {
				tag = "[" + string(inp.Request.Source) + "] "
			}
			lines = append(lines, fmt.Sprintf("%d. %s%s%s", i+1, urgencyIndicator(inp.Request.Urgency), tag, q))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	var footer []string
	if state.Status == progress.StatusDone && state.Answer != "" {
		footer = append(footer, state.Answer)
	}
	if state.Error != "" {
		footer = append(footer, "⚠ "+state.Error)
	}
	if resumeLine != "" {
		footer = append(footer, "`"+resumeLine+"`")
	}
	if len(footer) > 0 {
		sections = append(sections, strings.Join(footer, "\n"))
	}

	return strings.Join(sections, "\n\n"), cardMarkup(state, expanded, truncated)
}

func cardMarkup(state progress.SessionCardState, expanded, truncated bool) *telego.InlineKeyboardMarkup {
	var rows [][]telego.InlineKeyboardButton

	switch state.Status {
	case progress.StatusWorking:
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("⏸ Pause").WithCallbackData(CallbackPause),
			tu.InlineKeyboardButton("✖ Cancel").WithCallbackData(CallbackCancel),
		))
	case progress.StatusWaitingInput:
		if len(state.InputRequests) == 0 {
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("▶ Continue").WithCallbackData(CallbackContinue),
			))
		} else {
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("✖ Cancel").WithCallbackData(CallbackCancel),
			))
		}
	case progress.StatusDone, progress.StatusError, progress.StatusCancelled:
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("↩ Resume").WithCallbackData(CallbackContinue),
		))
	}

	inputs := state.InputRequests
	if len(inputs) > 2 {
		inputs = inputs[:2]
	}
	for _, inp := range inputs {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✏ Answer ["+string(inp.Request.Source)+"]").
				WithCallbackData(AnswerCallbackData(inp.Request.RequestID)),
			tu.InlineKeyboardButton("⏭ Skip").
				WithCallbackData(AutoCallbackData(inp.Request.RequestID)),
		))
	}

	if truncated || expanded {
		label := "↕ Show more"
		if expanded {
			label = "↕ Show less"
		}
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(label).WithCallbackData(CallbackExpand),
		))
	}

	return tu.InlineKeyboard(rows...)
}
