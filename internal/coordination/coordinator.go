package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// liveness is how fresh a heartbeat must be for a liaison to count as
	// active.
	liveness = 60 * time.Second

	// lockTimeout bounds how long a state mutation waits for the sidecar
	// lock. Contention past this is a warning, never a user-visible error.
	lockTimeout   = 10 * time.Second
	lockRetryTick = 25 * time.Millisecond

	discoveryTTL = time.Hour
	questionTTL  = 5 * time.Minute
)

var errLockTimeout = errors.New("lock acquisition timed out")

// LiaisonInfo is one entry of the active-liaisons registry.
type LiaisonInfo struct {
	StartedAt     time.Time `json:"started_at"`
	PID           int       `json:"pid"`
	Task          string    `json:"task"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// TaskInfo is one entry of the task registry.
type TaskInfo struct {
	ClaimedBy   string     `json:"claimed_by"`
	ClaimedAt   time.Time  `json:"claimed_at"`
	Description string     `json:"description"`
	Status      string     `json:"status"` // "in_progress" or "completed"
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// ContextEntry is one shared-context value with provenance.
type ContextEntry struct {
	Value       any       `json:"value"`
	FromLiaison string    `json:"from_liaison"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type liaisonRegistry struct {
	Version  int                    `json:"version"`
	Liaisons map[string]LiaisonInfo `json:"liaisons"`
}

type taskRegistry struct {
	Version int                 `json:"version"`
	Tasks   map[string]TaskInfo `json:"tasks"`
}

type contextStore struct {
	Version int                     `json:"version"`
	Context map[string]ContextEntry `json:"context"`
}

// Coordinator is one liaison's handle on the shared folder. Safe for
// concurrent use within a process and across processes.
type Coordinator struct {
	root string
	self string
	log  *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{} // broadcast ids already returned

	now func() time.Time
}

// New opens (creating if needed) the coordination folder layout for one
// liaison.
func New(root, selfID string, log *slog.Logger) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		root: root,
		self: selfID,
		log:  log.With("liaison", selfID),
		seen: map[string]struct{}{},
		now:  time.Now,
	}
	for _, dir := range []string{
		c.inboxDir(selfID),
		c.broadcastDir(),
		filepath.Join(root, "state"),
		filepath.Join(root, "locks"),
		filepath.Join(root, "sessions"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create coordination folder: %w", err)
		}
	}
	return c, nil
}

// Self returns this coordinator's liaison id.
func (c *Coordinator) Self() string { return c.self }

// Root returns the coordination folder path.
func (c *Coordinator) Root() string { return c.root }

func (c *Coordinator) inboxDir(id string) string {
	return filepath.Join(c.root, "coordination", "inbox", id)
}

func (c *Coordinator) broadcastDir() string {
	return filepath.Join(c.root, "coordination", "broadcast")
}

func (c *Coordinator) statePath(name string) string {
	return filepath.Join(c.root, "state", name+".json")
}

// withLock runs fn while holding the named sidecar lock. On timeout the
// mutation is skipped with a warning.
func (c *Coordinator) withLock(name string, fn func() error) error {
	fl := flock.New(filepath.Join(c.root, "locks", name+".lock"))
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockRetryTick)
	if err != nil || !locked {
		c.log.Warn("coordination.lock.timeout", "lock", name, "error", err)
		return errLockTimeout
	}
	defer fl.Unlock()
	return fn()
}

func loadState(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// writeFileAtomic writes via a temp file in the same directory then renames
// over the target.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func saveState(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Send delivers a message: broadcast when ToLiaison is empty, direct
// otherwise. Missing identity fields are filled in.
func (c *Coordinator) Send(m Message) error {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.FromLiaison == "" {
		m.FromLiaison = c.self
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}

	dir := c.broadcastDir()
	if !m.Broadcast() {
		dir = c.inboxDir(m.ToLiaison)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, m.Filename()), data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.log.Debug("coordination.sent", "type", m.Type, "to", m.ToLiaison, "id", m.MessageID)
	return nil
}

// Receive drains the direct inbox (deleting on read, at-most-once) then
// yields unread, unexpired broadcasts from other liaisons (deduped by id,
// at-least-once across processes).
func (c *Coordinator) Receive() []Message {
	now := c.now()
	var out []Message

	for _, path := range sortedJSONFiles(c.inboxDir(c.self)) {
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("coordination.inbox.read_failed", "path", path, "error", err)
			continue
		}
		os.Remove(path)
		m, err := DecodeMessage(data)
		if err != nil {
			c.log.Warn("coordination.inbox.malformed", "path", path, "error", err)
			continue
		}
		if m.Expired(now) {
			continue
		}
		out = append(out, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, path := range sortedJSONFiles(c.broadcastDir()) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		m, err := DecodeMessage(data)
		if err != nil {
			c.log.Warn("coordination.broadcast.malformed", "path", path, "error", err)
			continue
		}
		if m.Expired(now) || m.FromLiaison == c.self {
			continue
		}
		if _, dup := c.seen[m.MessageID]; dup {
			continue
		}
		c.seen[m.MessageID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func sortedJSONFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths
}

// Register announces this liaison in the active registry.
func (c *Coordinator) Register(task string) error {
	now := c.now()
	return c.withLock("active_liaisons", func() error {
		reg := liaisonRegistry{Version: 1, Liaisons: map[string]LiaisonInfo{}}
		if err := loadState(c.statePath("active_liaisons"), &reg); err != nil {
			return err
		}
		reg.Liaisons[c.self] = LiaisonInfo{
			StartedAt:     now,
			PID:           os.Getpid(),
			Task:          task,
			Status:        "active",
			LastHeartbeat: now,
		}
		return saveState(c.statePath("active_liaisons"), reg)
	})
}

// Heartbeat refreshes this liaison's liveness, optionally updating status.
func (c *Coordinator) Heartbeat(status string) error {
	now := c.now()
	return c.withLock("active_liaisons", func() error {
		reg := liaisonRegistry{Version: 1, Liaisons: map[string]LiaisonInfo{}}
		if err := loadState(c.statePath("active_liaisons"), &reg); err != nil {
			return err
		}
		info, ok := reg.Liaisons[c.self]
		if !ok {
			info = LiaisonInfo{StartedAt: now, PID: os.Getpid(), Status: "active"}
		}
		info.LastHeartbeat = now
		if status != "" {
			info.Status = status
		}
		reg.Liaisons[c.self] = info
		return saveState(c.statePath("active_liaisons"), reg)
	})
}

// Deregister removes this liaison from the active registry.
func (c *Coordinator) Deregister() error {
	return c.withLock("active_liaisons", func() error {
		reg := liaisonRegistry{Version: 1, Liaisons: map[string]LiaisonInfo{}}
		if err := loadState(c.statePath("active_liaisons"), &reg); err != nil {
			return err
		}
		delete(reg.Liaisons, c.self)
		return saveState(c.statePath("active_liaisons"), reg)
	})
}

// GetActive returns liaisons whose heartbeat is within the liveness window.
func (c *Coordinator) GetActive() map[string]LiaisonInfo {
	now := c.now()
	out := map[string]LiaisonInfo{}
	err := c.withLock("active_liaisons", func() error {
		reg := liaisonRegistry{Version: 1, Liaisons: map[string]LiaisonInfo{}}
		if err := loadState(c.statePath("active_liaisons"), &reg); err != nil {
			return err
		}
		for id, info := range reg.Liaisons {
			if now.Sub(info.LastHeartbeat) <= liveness {
				out[id] = info
			}
		}
		return nil
	})
	if err != nil {
		c.log.Warn("coordination.get_active.failed", "error", err)
	}
	return out
}

// ClaimTask attempts to take exclusive ownership of a task. Returns false
// when another liaison holds an in-progress claim.
func (c *Coordinator) ClaimTask(taskID, description string) bool {
	claimed := false
	now := c.now()
	err := c.withLock("task_registry", func() error {
		reg := taskRegistry{Version: 1, Tasks: map[string]TaskInfo{}}
		if err := loadState(c.statePath("task_registry"), &reg); err != nil {
			return err
		}
		if existing, ok := reg.Tasks[taskID]; ok && existing.Status == "in_progress" {
			return nil
		}
		reg.Tasks[taskID] = TaskInfo{
			ClaimedBy:   c.self,
			ClaimedAt:   now,
			Description: description,
			Status:      "in_progress",
		}
		claimed = true
		return saveState(c.statePath("task_registry"), reg)
	})
	if err != nil {
		c.log.Warn("coordination.claim.failed", "task", taskID, "error", err)
		return false
	}
	return claimed
}

// CompleteTask marks a task done, recording an optional result.
func (c *Coordinator) CompleteTask(taskID, result string) error {
	now := c.now()
	return c.withLock("task_registry", func() error {
		reg := taskRegistry{Version: 1, Tasks: map[string]TaskInfo{}}
		if err := loadState(c.statePath("task_registry"), &reg); err != nil {
			return err
		}
		info := reg.Tasks[taskID]
		info.Status = "completed"
		info.CompletedAt = &now
		info.Result = result
		reg.Tasks[taskID] = info
		return saveState(c.statePath("task_registry"), reg)
	})
}

// ShareContext publishes a key/value into the shared context.
func (c *Coordinator) ShareContext(key string, value any) error {
	now := c.now()
	return c.withLock("shared_context", func() error {
		store := contextStore{Version: 1, Context: map[string]ContextEntry{}}
		if err := loadState(c.statePath("shared_context"), &store); err != nil {
			return err
		}
		store.Context[key] = ContextEntry{Value: value, FromLiaison: c.self, UpdatedAt: now}
		return saveState(c.statePath("shared_context"), store)
	})
}

// GetSharedContext returns the full shared-context map.
func (c *Coordinator) GetSharedContext() map[string]ContextEntry {
	out := map[string]ContextEntry{}
	err := c.withLock("shared_context", func() error {
		store := contextStore{Version: 1, Context: map[string]ContextEntry{}}
		if err := loadState(c.statePath("shared_context"), &store); err != nil {
			return err
		}
		out = store.Context
		return nil
	})
	if err != nil {
		c.log.Warn("coordination.context.read_failed", "error", err)
	}
	return out
}

// BroadcastDiscovery shares a finding with all liaisons; expires in an hour.
func (c *Coordinator) BroadcastDiscovery(topic string, data map[string]any) error {
	expires := c.now().Add(discoveryTTL)
	return c.Send(Message{
		Type:      TypeInfoShare,
		Payload:   map[string]any{"topic": topic, "data": data},
		ExpiresAt: &expires,
	})
}

// AskLiaison sends a question directly to one liaison; expires in five
// minutes.
func (c *Coordinator) AskLiaison(to, question, contextText string) error {
	expires := c.now().Add(questionTTL)
	return c.Send(Message{
		ToLiaison: to,
		Type:      TypeQuestion,
		Payload:   map[string]any{"question": question, "context": contextText},
		ExpiresAt: &expires,
	})
}
