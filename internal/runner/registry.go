package runner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/takopi-dev/takopi/internal/model"
)

// Backend describes an installable engine. Backends register themselves from
// an init func in their own package; importing the package wires the engine.
type Backend struct {
	ID model.EngineID

	// Build constructs a runner for this engine with the given options.
	Build func(opts Options) (Runner, error)

	// Command is the CLI executable the backend shells out to. The doctor
	// command checks it is on PATH.
	Command string

	// InstallHint tells the user how to get the CLI when it is missing.
	InstallHint string
}

var (
	registryMu sync.RWMutex
	registry   = map[model.EngineID]Backend{}
)

// Register adds a backend to the global registry. A duplicate id panics;
// two packages claiming the same engine is a wiring bug.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[b.ID]; dup {
		panic(fmt.Sprintf("runner: backend %q registered twice", b.ID))
	}
	if b.Build == nil {
		panic(fmt.Sprintf("runner: backend %q has no Build func", b.ID))
	}
	registry[b.ID] = b
}

// Get looks up a backend by engine id.
func Get(id model.EngineID) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[id]
	return b, ok
}

// List returns all registered backends sorted by id.
func List() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Backend, 0, len(registry))
	for _, b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered engine ids sorted.
func IDs() []model.EngineID {
	backends := List()
	ids := make([]model.EngineID, len(backends))
	for i, b := range backends {
		ids[i] = b.ID
	}
	return ids
}
