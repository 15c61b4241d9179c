// Package model defines the canonical event schema shared by all engine
// runners: resume tokens, actions, and the five event variants that every
// run emits in `started (action|input_request|input_response)* completed`
// order.
package model

// EngineID identifies a backend engine ("claude", "codex", "kimi", "liaison").
type EngineID = string

// ActionKind classifies what an action represents in the activity feed.
type ActionKind string

const (
	ActionCommand      ActionKind = "command"
	ActionTool         ActionKind = "tool"
	ActionFileChange   ActionKind = "file_change"
	ActionWebSearch    ActionKind = "web_search"
	ActionSubagent     ActionKind = "subagent"
	ActionNote         ActionKind = "note"
	ActionTurn         ActionKind = "turn"
	ActionWarning      ActionKind = "warning"
	ActionTelemetry    ActionKind = "telemetry"
	ActionPaneActivity ActionKind = "pane_activity"
)

// ActionPhase tracks an action through its lifecycle.
type ActionPhase string

const (
	PhaseStarted   ActionPhase = "started"
	PhaseUpdated   ActionPhase = "updated"
	PhaseCompleted ActionPhase = "completed"
)

// ActionLevel is the severity attached to an action event.
type ActionLevel string

const (
	LevelDebug   ActionLevel = "debug"
	LevelInfo    ActionLevel = "info"
	LevelWarning ActionLevel = "warning"
	LevelError   ActionLevel = "error"
)

// InputSource says where an input request originated.
type InputSource string

const (
	SourceSubagent InputSource = "subagent"
	SourceLiaison  InputSource = "liaison"
)

// Urgency labels how quickly an input request needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Responder says who answered an input request.
type Responder string

const (
	ResponderUser    Responder = "user"
	ResponderLiaison Responder = "liaison"
	ResponderTimeout Responder = "timeout"
)

// ResumeToken identifies a resumable remote session on a specific engine.
type ResumeToken struct {
	Engine EngineID `json:"engine"`
	Value  string   `json:"value"`
}

// FileChange describes one file touched by a file_change action.
type FileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "create", "update", "delete"
}

// Action is a single unit of agent work (a command, a tool call, an edit).
// Detail is free-form; file_change actions carry a "changes" []FileChange.
type Action struct {
	ID     string         `json:"id"`
	Kind   ActionKind     `json:"kind"`
	Title  string         `json:"title"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Event is the canonical event union. Exactly one Started opens a run and
// exactly one Completed terminates it.
type Event interface {
	EventType() string
	EventEngine() EngineID
}

// Started is fired exactly once at run start.
type Started struct {
	Engine EngineID       `json:"engine"`
	Resume ResumeToken    `json:"resume"`
	Title  string         `json:"title,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func (e Started) EventType() string     { return "started" }
func (e Started) EventEngine() EngineID { return e.Engine }

// ActionEvent reports an action entering a phase. OK is nil until known.
type ActionEvent struct {
	Engine  EngineID    `json:"engine"`
	Action  Action      `json:"action"`
	Phase   ActionPhase `json:"phase"`
	OK      *bool       `json:"ok,omitempty"`
	Message string      `json:"message,omitempty"`
	Level   ActionLevel `json:"level,omitempty"`
}

func (e ActionEvent) EventType() string     { return "action" }
func (e ActionEvent) EventEngine() EngineID { return e.Engine }

// Completed is the terminal event of a run.
type Completed struct {
	Engine EngineID       `json:"engine"`
	OK     bool           `json:"ok"`
	Answer string         `json:"answer"`
	Resume *ResumeToken   `json:"resume,omitempty"`
	Error  string         `json:"error,omitempty"`
	Usage  map[string]any `json:"usage,omitempty"`
}

func (e Completed) EventType() string     { return "completed" }
func (e Completed) EventEngine() EngineID { return e.Engine }

// InputRequest is emitted when an agent needs user input during a run.
type InputRequest struct {
	Engine    EngineID    `json:"engine"`
	RequestID string      `json:"request_id"`
	Question  string      `json:"question"`
	Source    InputSource `json:"source"`
	Context   string      `json:"context,omitempty"`
	Options   []string    `json:"options,omitempty"`
	Urgency   Urgency     `json:"urgency"`
}

func (e InputRequest) EventType() string     { return "input_request" }
func (e InputRequest) EventEngine() EngineID { return e.Engine }

// InputResponse answers a previously emitted InputRequest.
type InputResponse struct {
	Engine    EngineID  `json:"engine"`
	RequestID string    `json:"request_id"`
	Response  string    `json:"response"`
	Responder Responder `json:"responder"`
}

func (e InputResponse) EventType() string     { return "input_response" }
func (e InputResponse) EventEngine() EngineID { return e.Engine }
