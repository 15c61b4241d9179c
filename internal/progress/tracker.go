// Package progress folds the canonical event stream into renderable
// snapshots: a per-run tracker and a session card that aggregates engines,
// activity, and pending inputs for the chat surface.
package progress

import (
	"sort"

	"github.com/takopi-dev/takopi/internal/model"
)

// TrackedAction is the latest known state of one action id.
type TrackedAction struct {
	Action model.Action
	Phase  model.ActionPhase
	OK     *bool

	// DisplayPhase is what the presenter shows: "updated" when an already
	// open id starts again, otherwise the raw phase.
	DisplayPhase model.ActionPhase
	Completed    bool

	FirstSeen  int
	LastUpdate int
}

// PendingInput is an unanswered input request.
type PendingInput struct {
	Request model.InputRequest
	SeenAt  int
}

// ProgressState is an immutable snapshot of a tracker.
type ProgressState struct {
	Actions       []TrackedAction
	ActionCount   int
	InputRequests []PendingInput
	Resume        *model.ResumeToken
	ResumeLine    string
	ContextLine   string
}

// Tracker folds one run's events. It is a pure fold: feeding the same event
// sequence twice produces identical snapshots. Not safe for concurrent use;
// the supervisor drives it from a single goroutine.
type Tracker struct {
	seq     int
	actions map[string]*TrackedAction
	inputs  map[string]*PendingInput
	resume  *model.ResumeToken
}

func NewTracker() *Tracker {
	return &Tracker{
		actions: map[string]*TrackedAction{},
		inputs:  map[string]*PendingInput{},
	}
}

// Observe folds one event into the tracker.
func (t *Tracker) Observe(ev model.Event) {
	switch e := ev.(type) {
	case model.Started:
		resume := e.Resume
		t.resume = &resume

	case model.ActionEvent:
		if e.Action.Kind == model.ActionTurn || e.Action.ID == "" {
			return
		}
		t.seq++
		existing, ok := t.actions[e.Action.ID]
		if !ok {
			t.actions[e.Action.ID] = &TrackedAction{
				Action:       e.Action,
				Phase:        e.Phase,
				OK:           e.OK,
				DisplayPhase: e.Phase,
				Completed:    e.Phase == model.PhaseCompleted,
				FirstSeen:    t.seq,
				LastUpdate:   t.seq,
			}
			return
		}
		existing.Action = e.Action
		existing.Phase = e.Phase
		existing.LastUpdate = t.seq
		if e.OK != nil {
			existing.OK = e.OK
		}
		switch e.Phase {
		case model.PhaseStarted:
			// Re-start of an open id reads as an update.
			existing.DisplayPhase = model.PhaseUpdated
		case model.PhaseUpdated:
			existing.DisplayPhase = model.PhaseUpdated
		case model.PhaseCompleted:
			existing.DisplayPhase = model.PhaseCompleted
			existing.Completed = true
		}

	case model.InputRequest:
		t.seq++
		t.inputs[e.RequestID] = &PendingInput{Request: e, SeenAt: t.seq}

	case model.Completed:
		if e.Resume != nil {
			resume := *e.Resume
			t.resume = &resume
		}
	}
}

// ClearInput removes a pending request once it has been answered.
func (t *Tracker) ClearInput(requestID string) {
	delete(t.inputs, requestID)
}

// Resume returns the latest observed resume token.
func (t *Tracker) Resume() *model.ResumeToken {
	return t.resume
}

// Snapshot renders the tracker state. resumeFormatter may be nil.
func (t *Tracker) Snapshot(resumeFormatter func(model.ResumeToken) string, contextLine string) ProgressState {
	state := ProgressState{
		ActionCount: len(t.actions),
		ContextLine: contextLine,
	}

	for _, a := range t.actions {
		state.Actions = append(state.Actions, *a)
	}
	sort.Slice(state.Actions, func(i, j int) bool {
		return state.Actions[i].FirstSeen < state.Actions[j].FirstSeen
	})

	for _, in := range t.inputs {
		state.InputRequests = append(state.InputRequests, *in)
	}
	sort.Slice(state.InputRequests, func(i, j int) bool {
		return state.InputRequests[i].SeenAt < state.InputRequests[j].SeenAt
	})

	if t.resume != nil {
		resume := *t.resume
		state.Resume = &resume
		if resumeFormatter != nil {
			state.ResumeLine = resumeFormatter(resume)
		}
	}
	return state
}
