package manager

import "time"

// Unload drains a model and removes it.
//   - Marks its versions unloading so new requests are rejected.
//   - Closes each batcher, which finishes running batches and fails queued ones.
//   - Shuts the handler instances down.
func (m *Manager) Unload(name string) error {
	if name == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.RLock()
	_, ok := m.models[name]
	m.mu.RUnlock()
	if !ok {
		return ErrModelNotFound(name)
	}
	m.unload(name)
	return nil
}

func (m *Manager) unload(name string) {
	m.mu.Lock()
	mdl := m.models[name]
	if mdl == nil {
		m.mu.Unlock()
		return
	}
	mdl.state = StateUnloading
	versions := make([]*version, 0, len(mdl.versions))
	for _, v := range mdl.versions {
		v.state = StateUnloading
		versions = append(versions, v)
	}
	m.mu.Unlock()
	m.publish(Event{Name: EventUnloadStart, Model: name})

	start := time.Now()
	for _, v := range versions {
		closeVersion(v)
	}

	m.mu.Lock()
	if m.models[name] == mdl {
		delete(m.models, name)
	}
	m.mu.Unlock()
	m.log.Info().Str("model", name).Int("versions", len(versions)).Dur("dur", time.Since(start)).Msg("model unloaded")
	m.publish(Event{Name: EventUnloadDone, Model: name})
}

// closeVersion stops the batcher first so no batch is dispatched to a closed
// handler.
func closeVersion(v *version) {
	if v.batcher != nil {
		_ = v.batcher.Close()
	}
	for _, h := range v.handlers {
		_ = h.Close()
	}
}
