package manager

import (
	"sync/atomic"
	"time"

	"llmserve/internal/batcher"
	"llmserve/internal/handler"
	"llmserve/internal/modelconfig"
)

// State represents lifecycle state of the manager, a model or a version.
type State string

const (
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateError     State = "error"
	StateUnloading State = "unloading"
)

// model is one repository entry and its loaded versions.
type model struct {
	name     string
	config   modelconfig.ModelConfig
	state    State
	err      string
	versions map[int64]*version
}

// version is the explicit handle of one served model version: its handler
// instances and the batcher in front of them.
type version struct {
	number   int64
	state    State
	handlers []*handler.Handler
	batcher  *batcher.Batcher
	lastUsed atomic.Int64
}

func (v *version) touch(t time.Time) { v.lastUsed.Store(t.Unix()) }

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State  State
	Err    string
	Models map[string]State
}
