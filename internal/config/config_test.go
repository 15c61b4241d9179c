package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
default_engine = "kimi"

[telegram]
token = "123:abc"
chat_id = 42

[router]
enabled = true
suggest_only = true
threshold = 0.8

[kimi]
model = "k2"
extra_args = ["--max-steps", "30"]

[liaison]
coordination_folder = "/tmp/coord"
poll_interval_s = 1.5
capture_lines = 80
captain_mode = false

[liaison.escalation]
timeout_s = 120
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sample, "test.toml")
	require.NoError(t, err)

	assert.Equal(t, "kimi", cfg.DefaultEngine)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.True(t, cfg.Router.Enabled)
	assert.Equal(t, 0.8, cfg.Router.Threshold)

	kimi := cfg.Engine("kimi")
	assert.Equal(t, "k2", kimi.Model)
	assert.Equal(t, []string{"--max-steps", "30"}, kimi.ExtraArgs)

	liaison := cfg.Engine("liaison")
	assert.Equal(t, "/tmp/coord", liaison.CoordinationFolder)
	assert.Equal(t, 1.5, liaison.PollIntervalS)
	assert.Equal(t, 80, liaison.CaptureLines)
	require.NotNil(t, liaison.CaptainMode)
	assert.False(t, *liaison.CaptainMode)
	assert.Equal(t, 120.0, liaison.Escalation.TimeoutS)

	// Absent table decodes to the zero value.
	assert.Empty(t, cfg.Engine("codex").Model)
}

func TestParseUnknownKeysIgnored(t *testing.T) {
	cfg, err := Parse(`
[claude]
model = "opus"
some_future_knob = "whatever"
`, "test.toml")
	require.NoError(t, err)
	assert.Equal(t, "opus", cfg.Engine("claude").Model)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("[broken", "bad.toml")
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "Malformed TOML")
}

func TestLoadExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "takopi.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "kimi", cfg.DefaultEngine)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "Missing config file")
}

func TestLoadCandidatesAndLegacyMigration(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cwd := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(cwd))
	t.Cleanup(func() { os.Chdir(old) })

	// Nothing anywhere: ConfigError listing the checked paths.
	_, err = Load("")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), filepath.Join(home, ".takopi", "takopi.toml"))
	assert.Contains(t, cerr.Error(), filepath.Join(".codex", "takopi.toml"))

	// A legacy home config migrates to the current home location.
	legacy := filepath.Join(home, ".codex", "takopi.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(legacy), 0o755))
	require.NoError(t, os.WriteFile(legacy, []byte(sample), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "kimi", cfg.DefaultEngine)
	assert.Equal(t, filepath.Join(home, ".takopi", "takopi.toml"), cfg.Path)
	_, statErr := os.Stat(legacy)
	assert.True(t, os.IsNotExist(statErr), "legacy file should have moved")

	// A local config wins over home.
	local := filepath.Join(cwd, ".takopi", "takopi.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte(`default_engine = "claude"`), 0o644))

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.DefaultEngine)
	assert.Equal(t, local, cfg.Path)
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "takopi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`default_engine = "kimi"`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	go Watch(ctx, path, nil, func(cfg *Config) {
		select {
		case got <- cfg:
		default:
		}
	})

	// Give the watcher a moment to attach before rewriting.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`default_engine = "claude"`), 0o644))

	select {
	case cfg := <-got:
		assert.Equal(t, "claude", cfg.DefaultEngine)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe the rewrite")
	}
}
