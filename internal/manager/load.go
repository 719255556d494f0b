package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"llmserve/internal/batcher"
	"llmserve/internal/common/fsutil"
	"llmserve/internal/handler"
	"llmserve/internal/llm"
	"llmserve/internal/modelconfig"
	"llmserve/internal/modelrepo"
)

// Load scans the repository and initializes every model it finds. Any model
// that fails to load leaves the manager in StateError and is reported in the
// returned error; the models that did load keep serving.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.New("manager closed")
	}
	start := time.Now()
	names, err := modelrepo.Models(m.cfg.Repo)
	if err != nil {
		m.setState(StateError, err.Error())
		return fmt.Errorf("scan repository %s: %w", m.cfg.Repo, err)
	}
	if len(names) == 0 {
		m.log.Warn().Str("repo", m.cfg.Repo).Msg("model repository is empty")
	}
	var errs []error
	for _, name := range names {
		if err := m.loadModel(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.setState(StateError, err.Error())
		return err
	}
	m.setState(StateReady, "")
	m.log.Info().Int("models", len(names)).Dur("dur", time.Since(start)).Msg("repository loaded")
	return nil
}

// LoadModel loads, or reloads, one model from the repository.
func (m *Manager) LoadModel(ctx context.Context, name string) error {
	if err := modelrepo.ValidateModelName(name); err != nil {
		return ErrInvalidInput(err.Error())
	}
	if !fsutil.PathExists(filepath.Join(m.cfg.Repo, name)) {
		return ErrModelNotFound(name)
	}
	m.mu.RLock()
	_, loaded := m.models[name]
	m.mu.RUnlock()
	if loaded {
		m.unload(name)
	}
	return m.loadModel(ctx, name)
}

func (m *Manager) setState(s State, msg string) {
	m.mu.Lock()
	if !m.closed {
		m.state = s
		m.err = msg
	}
	m.mu.Unlock()
}

// loadModel registers name in StateLoading, then brings up each selected
// version. A failing version fails the whole model and closes whatever was
// already started for it.
func (m *Manager) loadModel(ctx context.Context, name string) error {
	mdl := &model{name: name, state: StateLoading, versions: make(map[int64]*version)}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager closed")
	}
	m.models[name] = mdl
	m.mu.Unlock()
	m.publish(Event{Name: EventLoadStart, Model: name})

	loaded, cfg, err := m.startModel(ctx, name)

	m.mu.Lock()
	if m.models[name] != mdl || m.closed {
		// Unloaded while starting.
		m.mu.Unlock()
		for _, v := range loaded {
			closeVersion(v)
		}
		return fmt.Errorf("load %s: %w", name, notReadyError{id: name, reason: "unloaded during load"})
	}
	mdl.config = cfg
	if err != nil {
		mdl.state = StateError
		mdl.err = err.Error()
		m.mu.Unlock()
		for _, v := range loaded {
			closeVersion(v)
		}
		m.log.Error().Err(err).Str("model", name).Msg("model load failed")
		m.publish(Event{Name: EventLoadFailed, Model: name, Fields: map[string]any{"error": err.Error()}})
		return fmt.Errorf("load %s: %w", name, err)
	}
	for _, v := range loaded {
		mdl.versions[v.number] = v
	}
	mdl.state = StateReady
	m.mu.Unlock()
	for _, v := range loaded {
		m.publish(Event{Name: EventLoadReady, Model: name, Version: v.number, Fields: map[string]any{"instances": len(v.handlers)}})
	}
	return nil
}

func (m *Manager) startModel(ctx context.Context, name string) ([]*version, modelconfig.ModelConfig, error) {
	modelDir := filepath.Join(m.cfg.Repo, name)
	cfgPath, err := modelrepo.FindConfig(modelDir)
	if err != nil {
		return nil, modelconfig.ModelConfig{}, err
	}
	cfg, err := modelconfig.Load(cfgPath)
	if err != nil {
		return nil, cfg, err
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.Name != name {
		return nil, cfg, fmt.Errorf("config %s names model %q, directory is %q", cfgPath, cfg.Name, name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}
	available, err := modelrepo.Versions(modelDir)
	if err != nil {
		return nil, cfg, err
	}
	selected, err := modelrepo.Select(cfg.VersionPolicy, available)
	if err != nil {
		return nil, cfg, err
	}
	if len(selected) == 0 {
		return nil, cfg, fmt.Errorf("no versions of %s match the version policy", name)
	}
	adapter, err := m.adapterFor(cfg.Backend)
	if err != nil {
		return nil, cfg, err
	}
	var loaded []*version
	for _, n := range selected {
		v, err := m.startVersion(ctx, adapter, cfg, n)
		if err != nil {
			return loaded, cfg, err
		}
		loaded = append(loaded, v)
	}
	return loaded, cfg, nil
}

// startVersion initializes the instance group of one version and puts a
// batcher in front of it. Initialization failure is fatal for the version.
func (m *Manager) startVersion(ctx context.Context, adapter llm.Adapter, cfg modelconfig.ModelConfig, number int64) (*version, error) {
	layout, err := modelrepo.NewLayout(m.cfg.Repo, cfg.Name, number)
	if err != nil {
		return nil, err
	}
	var hs modelrepo.HandlerSpec
	if fsutil.PathExists(layout.HandlerPath()) {
		if hs, err = modelrepo.LoadHandlerSpec(layout.HandlerPath()); err != nil {
			return nil, err
		}
	}
	spec, err := layout.ModelSpec(hs)
	if err != nil {
		return nil, err
	}

	log := m.log.With().Str("model", cfg.Name).Int64("version", number).Logger()
	count := cfg.Instances()
	v := &version{number: number, state: StateLoading}
	executors := make([]batcher.Executor, 0, count)
	for i := 0; i < count; i++ {
		h, err := handler.New(ctx, adapter, spec,
			handler.WithLogger(log.With().Int("instance", i).Logger()),
			handler.WithPromptTimeout(m.cfg.PromptTimeout),
		)
		if err != nil {
			closeVersion(v)
			return nil, wrapBackendErr(fmt.Errorf("instance %d: %w", i, err))
		}
		v.handlers = append(v.handlers, h)
		executors = append(executors, h)
	}

	bcfg := batcher.Config{
		Model:         cfg.Name,
		MaxBatchSize:  cfg.MaxBatchSize,
		MaxQueueDepth: m.cfg.MaxQueueDepth,
		MaxWait:       m.cfg.MaxWait,
		Logger:        log,
	}
	if d := cfg.DynamicBatching; d != nil {
		bcfg.PreferredBatchSizes = d.PreferredBatchSize
		bcfg.MaxQueueDelay = d.MaxQueueDelay()
		if d.MaxQueueSize > 0 {
			bcfg.MaxQueueDepth = d.MaxQueueSize
		}
	}
	b, err := batcher.New(bcfg, executors)
	if err != nil {
		closeVersion(v)
		return nil, err
	}
	v.batcher = b
	v.state = StateReady
	log.Info().Int("instances", count).Int("max_batch_size", cfg.MaxBatchSize).Msg("version ready")
	return v, nil
}

// adapterFor returns the cached adapter of a backend kind.
func (m *Manager) adapterFor(kind string) (llm.Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.adapters[kind]; ok {
		return a, nil
	}
	a, err := m.cfg.NewAdapter(kind)
	if err != nil {
		return nil, wrapBackendErr(err)
	}
	m.adapters[kind] = a
	return a, nil
}

func wrapBackendErr(err error) error {
	if errors.Is(err, llm.ErrUnavailable) {
		return dependencyUnavailableError{msg: err.Error(), err: err}
	}
	return err
}
