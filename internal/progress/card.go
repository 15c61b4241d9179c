package progress

import (
	"time"

	"github.com/takopi-dev/takopi/internal/model"
)

// CardStatus is the run-level status shown on the session card.
type CardStatus string

const (
	StatusWorking      CardStatus = "working"
	StatusWaitingInput CardStatus = "waiting_input"
	StatusDone         CardStatus = "done"
	StatusError        CardStatus = "error"
	StatusCancelled    CardStatus = "cancelled"
)

// BadgeStatus is the per-engine status on the card.
type BadgeStatus string

const (
	BadgeActive  BadgeStatus = "active"
	BadgeWaiting BadgeStatus = "waiting"
	BadgeDone    BadgeStatus = "done"
	BadgeError   BadgeStatus = "error"
)

// Badge summarizes one engine's participation in the run.
type Badge struct {
	Engine       model.EngineID
	Status       BadgeStatus
	Steps        int
	LastActivity time.Time
}

// ActivityItem is one line of the bounded activity feed.
type ActivityItem struct {
	Engine model.EngineID
	Text   string
	At     time.Time
}

// SessionCardState is the renderable snapshot of a card.
type SessionCardState struct {
	Badges        []Badge
	Activity      []ActivityItem
	InputRequests []PendingInput
	Status        CardStatus
	Error         string
	Answer        string
	Resume        *model.ResumeToken
	StartedAt     time.Time
}

const defaultActivityLimit = 50

// Card is the session-card fold: tracker semantics plus per-engine badges,
// a bounded activity ring, and the run status machine.
type Card struct {
	tracker *Tracker

	badges     map[model.EngineID]*Badge
	badgeOrder []model.EngineID
	activity   []ActivityItem
	limit      int

	status    CardStatus
	errText   string
	answer    string
	startedAt time.Time

	now func() time.Time
}

func NewCard() *Card {
	c := &Card{
		tracker: NewTracker(),
		badges:  map[model.EngineID]*Badge{},
		limit:   defaultActivityLimit,
		status:  StatusWorking,
		now:     time.Now,
	}
	c.startedAt = c.now()
	return c
}

func (c *Card) badge(engine model.EngineID) *Badge {
	b, ok := c.badges[engine]
	if !ok {
		b = &Badge{Engine: engine, Status: BadgeActive}
		c.badges[engine] = b
		c.badgeOrder = append(c.badgeOrder, engine)
	}
	return b
}

func (c *Card) pushActivity(engine model.EngineID, text string) {
	c.activity = append(c.activity, ActivityItem{Engine: engine, Text: text, At: c.now()})
	if len(c.activity) > c.limit {
		c.activity = c.activity[len(c.activity)-c.limit:]
	}
}

func (c *Card) terminal() bool {
	switch c.status {
	case StatusDone, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Observe folds one event into the card.
func (c *Card) Observe(ev model.Event) {
	c.tracker.Observe(ev)

	switch e := ev.(type) {
	case model.Started:
		b := c.badge(e.Engine)
		b.Status = BadgeActive
		b.LastActivity = c.now()
		if e.Title != "" {
			c.pushActivity(e.Engine, e.Title)
		}

	case model.ActionEvent:
		if e.Action.Kind == model.ActionTurn || e.Action.ID == "" {
			return
		}
		b := c.badge(e.Engine)
		b.LastActivity = c.now()
		if e.Phase == model.PhaseStarted {
			b.Steps++
		}
		c.pushActivity(e.Engine, string(e.Action.Kind)+": "+e.Action.Title)

	case model.InputRequest:
		b := c.badge(e.Engine)
		b.Status = BadgeWaiting
		b.LastActivity = c.now()
		c.pushActivity(e.Engine, "waiting: "+e.Question)
		if !c.terminal() {
			c.status = StatusWaitingInput
		}

	case model.InputResponse:
		c.ClearInput(e.RequestID)

	case model.Completed:
		b := c.badge(e.Engine)
		b.LastActivity = c.now()
		if e.OK {
			b.Status = BadgeDone
		} else {
			b.Status = BadgeError
		}
		if c.terminal() {
			return
		}
		if e.OK {
			c.status = StatusDone
			c.answer = e.Answer
		} else {
			c.status = StatusError
			c.errText = e.Error
		}
	}
}

// ClearInput removes a pending request and settles the status back to
// working when nothing else is waiting.
func (c *Card) ClearInput(requestID string) {
	c.tracker.ClearInput(requestID)
	if c.status == StatusWaitingInput && len(c.tracker.inputs) == 0 {
		c.status = StatusWorking
		for _, b := range c.badges {
			if b.Status == BadgeWaiting {
				b.Status = BadgeActive
			}
		}
	}
}

// Cancel moves the card to cancelled from any state. Idempotent.
func (c *Card) Cancel() {
	c.status = StatusCancelled
}

// Status returns the current run-level status.
func (c *Card) Status() CardStatus {
	return c.status
}

// Snapshot renders the card.
func (c *Card) Snapshot() SessionCardState {
	tracked := c.tracker.Snapshot(nil, "")
	state := SessionCardState{
		Activity:      append([]ActivityItem(nil), c.activity...),
		InputRequests: tracked.InputRequests,
		Status:        c.status,
		Error:         c.errText,
		Answer:        c.answer,
		Resume:        tracked.Resume,
		StartedAt:     c.startedAt,
	}
	for _, engine := range c.badgeOrder {
		state.Badges = append(state.Badges, *c.badges[engine])
	}
	return state
}
