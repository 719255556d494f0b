package manager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llmserve/internal/llm"
)

type Manager struct {
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	mu       sync.RWMutex
	state    State
	err      string
	closed   bool
	models   map[string]*model
	adapters map[string]llm.Adapter

	inferTotal    atomic.Uint64
	inferFailures atomic.Uint64
}

// New constructs a Manager. Nothing is loaded until Load.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		log:       cfg.Logger,
		publisher: cfg.Publisher,
		startTime: time.Now(),
		state:     StateLoading,
		models:    make(map[string]*model),
		adapters:  make(map[string]llm.Adapter),
	}
}

// SetEventPublisher replaces the event publisher. Nil restores the no-op one.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(e)
}

// Ready reports whether the server finished loading and every model has at
// least one ready version.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed || m.state != StateReady {
		return false
	}
	for _, mdl := range m.models {
		if mdl.state != StateReady {
			return false
		}
	}
	return true
}

// ModelReady reports whether a version can serve. An empty version means the
// latest ready one.
func (m *Manager) ModelReady(name, ver string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, v, err := m.lookupLocked(name, ver)
	return err == nil && v.state == StateReady
}

// ModelNames lists the repository entries known to the manager, sorted.
func (m *Manager) ModelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.models))
	for name := range m.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close unloads every model. Later calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.unload(name)
	}
	m.publish(Event{Name: EventServerClosed})
	m.log.Info().Int("models", len(names)).Msg("manager closed")
	return nil
}
