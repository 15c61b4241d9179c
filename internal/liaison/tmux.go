package liaison

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// CommandRunner executes one external command and returns its stdout. Tests
// substitute a fake; production uses execRunner.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}

// Tmux wraps the terminal multiplexer CLI.
type Tmux struct {
	run CommandRunner
	log *slog.Logger
}

func NewTmux(log *slog.Logger) *Tmux {
	if log == nil {
		log = slog.Default()
	}
	return &Tmux{run: execRunner, log: log}
}

// NewSession creates a detached session.
func (t *Tmux) NewSession(ctx context.Context, name string) error {
	if _, err := t.run(ctx, "tmux", "new-session", "-d", "-s", name); err != nil {
		t.log.Error("liaison.tmux.create_failed", "session", name, "error", err)
		return fmt.Errorf("tmux new-session: %w", err)
	}
	t.log.Info("liaison.tmux.created", "session", name)
	return nil
}

// HasSession reports whether the named session is alive.
func (t *Tmux) HasSession(ctx context.Context, name string) bool {
	_, err := t.run(ctx, "tmux", "has-session", "-t", name)
	return err == nil
}

// CapturePane returns the last n lines of a pane's scrollback.
func (t *Tmux) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	out, err := t.run(ctx, "tmux", "capture-pane", "-t", target, "-p", "-S", strconv.Itoa(-lines))
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return string(out), nil
}

// SendKeys types text into a pane followed by Enter, escaping the
// characters send-keys treats specially.
func (t *Tmux) SendKeys(ctx context.Context, target, text string) error {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, ";", `\;`)
	if _, err := t.run(ctx, "tmux", "send-keys", "-t", target, escaped, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys: %w", err)
	}
	return nil
}

// KillSession tears a session down. Missing sessions are not an error.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	if !t.HasSession(ctx, name) {
		return nil
	}
	if _, err := t.run(ctx, "tmux", "kill-session", "-t", name); err != nil {
		return fmt.Errorf("tmux kill-session: %w", err)
	}
	t.log.Info("liaison.tmux.killed", "session", name)
	return nil
}

var plainShellRe = regexp.MustCompile(`^[A-Za-z0-9_\-./=]+$`)

// ShellEscape quotes a string for embedding in a shell command line.
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}
	if plainShellRe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
