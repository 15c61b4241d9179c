// Package config loads the takopi TOML config. The file is searched in a
// fixed candidate order (project-local then home); a legacy location is
// migrated on first run when the current target does not exist.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	localDir  = ".takopi"
	legacyDir = ".codex"
	fileName  = "takopi.toml"
)

// ConfigError is fatal at startup and carries every path that was checked so
// the user can see where a config would be picked up.
type ConfigError struct {
	Message string
	Checked []string
}

func (e *ConfigError) Error() string {
	if len(e.Checked) == 0 {
		return e.Message
	}
	return e.Message + " Checked: " + strings.Join(e.Checked, ", ")
}

// Telegram is the [telegram] table.
type Telegram struct {
	Token  string `toml:"token"`
	ChatID int64  `toml:"chat_id"`
}

// Router is the [router] table for the liaison suggestion heuristics.
type Router struct {
	Enabled     bool    `toml:"enabled"`
	SuggestOnly bool    `toml:"suggest_only"`
	Threshold   float64 `toml:"threshold"`
}

// Escalation is the [<engine>.escalation] sub-table.
type Escalation struct {
	TimeoutS float64 `toml:"timeout_s"`
}

// Engine is one per-backend table; unknown keys are ignored.
type Engine struct {
	Model     string   `toml:"model"`
	ExtraArgs []string `toml:"extra_args"`

	// Liaison-only knobs.
	CoordinationFolder string     `toml:"coordination_folder"`
	PollIntervalS      float64    `toml:"poll_interval_s"`
	CaptureLines       int        `toml:"capture_lines"`
	CaptainMode        *bool      `toml:"captain_mode"`
	BrainCommand       string     `toml:"brain_command"`
	Escalation         Escalation `toml:"escalation"`
}

// Config is the decoded file plus where it came from.
type Config struct {
	Path string `toml:"-"`

	DefaultEngine string            `toml:"default_engine"`
	Telegram      Telegram          `toml:"telegram"`
	Router        Router            `toml:"router"`
	Engines       map[string]Engine `toml:"-"`
}

// Engine returns the table for one backend id, zero-valued when absent.
func (c *Config) Engine(id string) Engine {
	return c.Engines[id]
}

func candidatePair(dir string) []string {
	var out []string
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(cwd, dir, fileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, dir, fileName)
		if len(out) == 0 || out[0] != p {
			out = append(out, p)
		}
	}
	return out
}

// migrateLegacy moves a legacy config to the current location when the
// target does not exist yet.
func migrateLegacy(legacy, target string) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	info, err := os.Stat(legacy)
	if err != nil || info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &ConfigError{Message: fmt.Sprintf("Failed to migrate legacy config %s to %s: %v.", legacy, target, err)}
	}
	if err := os.Rename(legacy, target); err != nil {
		return &ConfigError{Message: fmt.Sprintf("Failed to migrate legacy config %s to %s: %v.", legacy, target, err)}
	}
	return nil
}

// Load reads the config from an explicit path, or from the candidate set
// when path is empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return parseFile(path)
	}

	current := candidatePair(localDir)
	legacy := candidatePair(legacyDir)
	for i, lp := range legacy {
		if i < len(current) {
			if err := migrateLegacy(lp, current[i]); err != nil {
				return nil, err
			}
		}
	}

	for _, candidate := range append(append([]string{}, current...), legacy...) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return parseFile(candidate)
		}
	}

	seen := map[string]bool{}
	var checked []string
	for _, c := range append(current, legacy...) {
		if !seen[c] {
			seen[c] = true
			checked = append(checked, c)
		}
	}
	return nil, &ConfigError{Message: "Missing takopi config.", Checked: checked}
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Message: fmt.Sprintf("Missing config file %s.", path)}
		}
		return nil, &ConfigError{Message: fmt.Sprintf("Failed to read config file %s: %v.", path, err)}
	}
	return Parse(string(data), path)
}

// knownTopLevel are keys decoded into named fields rather than engine
// tables.
var knownTopLevel = map[string]bool{
	"default_engine": true,
	"telegram":       true,
	"router":         true,
}

// Parse decodes TOML text. Top-level tables other than the known ones are
// per-backend engine tables.
func Parse(text, path string) (*Config, error) {
	cfg := &Config{Path: path, Engines: map[string]Engine{}}
	if _, err := toml.Decode(text, cfg); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("Malformed TOML in %s: %v.", path, err)}
	}

	var raw map[string]toml.Primitive
	md, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("Malformed TOML in %s: %v.", path, err)}
	}
	for key, prim := range raw {
		if knownTopLevel[key] {
			continue
		}
		var engine Engine
		if err := md.PrimitiveDecode(prim, &engine); err != nil {
			return nil, &ConfigError{Message: fmt.Sprintf("Bad [%s] table in %s: %v.", key, path, err)}
		}
		cfg.Engines[key] = engine
	}
	return cfg, nil
}
