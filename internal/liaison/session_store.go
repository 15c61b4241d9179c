package liaison

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/takopi-dev/takopi/internal/model"
)

// Pane is one multiplexer pane running a subagent. The unexported fields are
// runtime-only and never persisted.
type Pane struct {
	PaneID         string         `json:"pane_id"`
	SessionName    string         `json:"session_name"`
	WindowIndex    int            `json:"window_index"`
	PaneIndex      int            `json:"pane_index"`
	Engine         model.EngineID `json:"engine"`
	Role           string         `json:"role"` // "liaison" or "worker"
	SubagentResume string         `json:"subagent_resume,omitempty"`

	lastCaptureHash     string
	pendingInputRequest string
}

// Target is the tmux addressing string for this pane.
func (p *Pane) Target() string {
	return fmt.Sprintf("%s:%d.%d", p.SessionName, p.WindowIndex, p.PaneIndex)
}

// Session is the persisted liaison session graph.
type Session struct {
	SessionID          string    `json:"session_id"`
	TmuxSession        string    `json:"tmux_session"`
	CreatedAt          time.Time `json:"created_at"`
	Panes              []*Pane   `json:"panes"`
	CoordinationFolder string    `json:"coordination_folder"`
}

// SessionStore reads and writes session graph snapshots under a sessions/
// directory. Each file is owned by exactly one liaison; no locking.
type SessionStore struct {
	dir string
}

func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

func (s *SessionStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save writes the session graph atomically.
func (s *SessionStore) Save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(sess.SessionID)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load reads a session graph by id.
func (s *SessionStore) Load(sessionID string) (*Session, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Remove deletes a session file. Missing files are fine.
func (s *SessionStore) Remove(sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
