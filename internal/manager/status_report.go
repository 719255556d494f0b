package manager

import (
	"sort"
	"time"

	"llmserve/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{State: m.state, Err: m.err, Models: make(map[string]State, len(m.models))}
	for name, mdl := range m.models {
		s.Models[name] = mdl.state
	}
	return s
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:          string(m.state),
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		InferTotal:     m.inferTotal.Load(),
		InferFailures:  m.inferFailures.Load(),
		LastError:      m.err,
		Models:         []types.ModelStatus{},
	}
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mdl := m.models[name]
		if len(mdl.versions) == 0 {
			resp.Models = append(resp.Models, types.ModelStatus{
				Name:      name,
				Backend:   mdl.config.Backend,
				State:     string(mdl.state),
				Error:     mdl.err,
				Instances: []types.InstanceStatus{},
			})
			continue
		}
		for _, n := range mdl.sortedVersions() {
			v := mdl.versions[n]
			st := types.ModelStatus{
				Name:         name,
				Version:      n,
				Backend:      mdl.config.Backend,
				State:        string(v.state),
				MaxBatchSize: mdl.config.MaxBatchSize,
				LastUsed:     v.lastUsed.Load(),
				Instances:    make([]types.InstanceStatus, 0, len(v.handlers)),
			}
			if v.batcher != nil {
				st.QueueLen = v.batcher.QueueLen()
			}
			for i, h := range v.handlers {
				st.Instances = append(st.Instances, types.InstanceStatus{Index: i, State: string(h.State())})
			}
			resp.Models = append(resp.Models, st)
		}
	}
	return resp
}
