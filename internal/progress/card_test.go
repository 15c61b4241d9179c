package progress

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takopi-dev/takopi/internal/model"
)

func TestCardStatusTransitions(t *testing.T) {
	c := NewCard()
	assert.Equal(t, StatusWorking, c.Status())

	c.Observe(model.InputRequest{Engine: "kimi", RequestID: "q1", Question: "?"})
	assert.Equal(t, StatusWaitingInput, c.Status())

	c.ClearInput("q1")
	assert.Equal(t, StatusWorking, c.Status())

	c.Observe(model.Completed{Engine: "kimi", OK: true, Answer: "done"})
	assert.Equal(t, StatusDone, c.Status())

	// Terminal states are sticky apart from cancellation.
	c.Observe(model.InputRequest{Engine: "kimi", RequestID: "q2", Question: "?"})
	assert.Equal(t, StatusDone, c.Status())
}

func TestCardErrorCompletion(t *testing.T) {
	c := NewCard()
	c.Observe(model.Completed{Engine: "claude", OK: false, Error: "claude failed (rc=1)."})

	snap := c.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "claude failed (rc=1).", snap.Error)
}

func TestCardCancelIdempotent(t *testing.T) {
	c := NewCard()
	c.Cancel()
	c.Cancel()
	assert.Equal(t, StatusCancelled, c.Status())

	// Completion after cancel does not resurrect the run.
	c.Observe(model.Completed{Engine: "kimi", OK: true})
	assert.Equal(t, StatusCancelled, c.Status())
}

func TestCardBadges(t *testing.T) {
	c := NewCard()
	c.Observe(model.Started{Engine: "kimi", Resume: model.ResumeToken{Engine: "kimi", Value: "s"}})
	c.Observe(model.ActionEvent{Engine: "kimi", Action: model.Action{ID: "a", Kind: model.ActionCommand, Title: "ls"}, Phase: model.PhaseStarted})
	c.Observe(model.ActionEvent{Engine: "kimi", Action: model.Action{ID: "a", Kind: model.ActionCommand, Title: "ls"}, Phase: model.PhaseCompleted})
	c.Observe(model.ActionEvent{Engine: "liaison", Action: model.Action{ID: "p", Kind: model.ActionPaneActivity, Title: "pane"}, Phase: model.PhaseStarted})

	snap := c.Snapshot()
	require.Len(t, snap.Badges, 2)
	assert.Equal(t, model.EngineID("kimi"), snap.Badges[0].Engine)
	assert.Equal(t, 1, snap.Badges[0].Steps)
	assert.Equal(t, BadgeActive, snap.Badges[0].Status)
	assert.Equal(t, model.EngineID("liaison"), snap.Badges[1].Engine)
}

func TestCardActivityRingBounded(t *testing.T) {
	c := NewCard()
	for i := 0; i < defaultActivityLimit+10; i++ {
		id := "a" + strconv.Itoa(i)
		c.Observe(model.ActionEvent{Engine: "kimi", Action: model.Action{ID: id, Kind: model.ActionTool, Title: id}, Phase: model.PhaseStarted})
	}

	snap := c.Snapshot()
	assert.Len(t, snap.Activity, defaultActivityLimit)
	assert.Equal(t, "tool: a59", snap.Activity[len(snap.Activity)-1].Text)
}
