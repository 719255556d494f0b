package manager

import (
	"sort"
	"strconv"

	"llmserve/internal/modelconfig"
	"llmserve/pkg/types"
)

// ServerMetadata describes the server for GET /v2.
func (m *Manager) ServerMetadata() types.ServerMetadata {
	return types.ServerMetadata{
		Name:       "llmserve",
		Version:    m.cfg.ServerVersion,
		Extensions: []string{"model_repository"},
	}
}

// ModelMetadata describes a model, or one version of it when ver is set.
func (m *Manager) ModelMetadata(name, ver string) (types.ModelMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mdl, ok := m.models[name]
	if !ok || m.closed {
		return types.ModelMetadata{}, ErrModelNotFound(name)
	}
	md := types.ModelMetadata{
		Name:     name,
		Platform: mdl.config.Backend,
		Inputs:   tensorMetadata(mdl.config.Input),
		Outputs:  tensorMetadata(mdl.config.Output),
	}
	if ver != "" {
		_, v, err := m.lookupLocked(name, ver)
		if err != nil {
			return types.ModelMetadata{}, err
		}
		md.Versions = []string{strconv.FormatInt(v.number, 10)}
		return md, nil
	}
	for _, n := range mdl.sortedVersions() {
		md.Versions = append(md.Versions, strconv.FormatInt(n, 10))
	}
	return md, nil
}

// tensorMetadata reports text tensors as BYTES with a leading batch dim.
func tensorMetadata(ts []modelconfig.TensorConfig) []types.TensorMetadata {
	out := make([]types.TensorMetadata, 0, len(ts))
	for _, t := range ts {
		shape := append([]int64{-1}, t.Dims...)
		out = append(out, types.TensorMetadata{Name: t.Name, Datatype: types.DatatypeBytes, Shape: shape})
	}
	return out
}

// RepositoryIndex lists every model version known to the manager, sorted by
// name then version. Models that failed before any version started appear
// once without a version. With readyOnly only serving versions are listed.
func (m *Manager) RepositoryIndex(readyOnly bool) []types.RepositoryModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []types.RepositoryModel{}
	for _, name := range names {
		mdl := m.models[name]
		if len(mdl.versions) == 0 {
			if !readyOnly {
				out = append(out, types.RepositoryModel{Name: name, State: indexState(mdl.state), Reason: mdl.err})
			}
			continue
		}
		for _, n := range mdl.sortedVersions() {
			v := mdl.versions[n]
			if readyOnly && v.state != StateReady {
				continue
			}
			out = append(out, types.RepositoryModel{
				Name:    name,
				Version: strconv.FormatInt(n, 10),
				State:   indexState(v.state),
			})
		}
	}
	return out
}

// indexState maps internal states onto the repository extension's names.
func indexState(s State) string {
	switch s {
	case StateReady:
		return "READY"
	case StateLoading:
		return "LOADING"
	case StateUnloading:
		return "UNLOADING"
	default:
		return "UNAVAILABLE"
	}
}

func (mdl *model) sortedVersions() []int64 {
	out := make([]int64, 0, len(mdl.versions))
	for n := range mdl.versions {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
