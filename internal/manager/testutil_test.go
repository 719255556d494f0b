package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"llmserve/internal/llm"
	"llmserve/internal/modelconfig"
	"llmserve/internal/modelrepo"
	"llmserve/pkg/types"
)

// fakeAdapter is a lightweight in-memory adapter used for tests. Sessions
// answer "gen:<prompt>".
type fakeAdapter struct {
	loadErr error
	// gate, when set, blocks every Generate until it is closed.
	gate chan struct{}

	loads   atomic.Int32
	started atomic.Int32
	closed  atomic.Int32

	mu    sync.Mutex
	specs []llm.ModelSpec
}

func (f *fakeAdapter) Load(ctx context.Context, spec llm.ModelSpec) (llm.Session, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.loads.Add(1)
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return &fakeSession{f: f}, nil
}

func (f *fakeAdapter) loadedSpecs() []llm.ModelSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ModelSpec(nil), f.specs...)
}

type fakeSession struct {
	f    *fakeAdapter
	once sync.Once
}

func (s *fakeSession) Generate(ctx context.Context, prompt string, p llm.Params) (llm.Result, error) {
	s.f.started.Add(1)
	if s.f.gate != nil {
		select {
		case <-s.f.gate:
		case <-ctx.Done():
			return llm.Result{}, ctx.Err()
		}
	}
	return llm.Result{Text: "gen:" + prompt}, nil
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { s.f.closed.Add(1) })
	return nil
}

// writeModel lays out a model with the given versions under repo. Each
// version points at a placeholder GGUF file.
func writeModel(t *testing.T, repo string, cfg modelconfig.ModelConfig, versions ...int64) {
	t.Helper()
	for _, n := range versions {
		l, err := modelrepo.NewLayout(repo, cfg.Name, n)
		if err != nil {
			t.Fatalf("layout: %v", err)
		}
		if err := l.Create(); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := os.WriteFile(filepath.Join(l.WeightsDir(), "model.gguf"), []byte("gguf"), 0o644); err != nil {
			t.Fatalf("weights: %v", err)
		}
		if err := modelrepo.WriteHandlerSpec(l.HandlerPath(), modelrepo.HandlerSpec{Source: "file:///tmp/model.gguf", Weights: "weights/model.gguf"}); err != nil {
			t.Fatalf("handler spec: %v", err)
		}
	}
	if err := modelconfig.Write(filepath.Join(repo, cfg.Name, modelrepo.ConfigFile), cfg); err != nil {
		t.Fatalf("config: %v", err)
	}
}

// newTestManager returns a manager over repo whose adapters are all fa.
func newTestManager(repo string, fa *fakeAdapter, mutate ...func(*Config)) *Manager {
	cfg := Config{
		Repo:       repo,
		NewAdapter: func(kind string) (llm.Adapter, error) { return fa, nil },
		MaxWait:    time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return New(cfg)
}

// textRequest builds a v2 request for rows.
func textRequest(id string, rows ...[]string) types.InferRequest {
	var data types.TextData
	cols := 0
	for _, r := range rows {
		cols = len(r)
		data = append(data, r...)
	}
	return types.InferRequest{
		ID: id,
		Inputs: []types.InferInputTensor{{
			Name:     modelconfig.InputName,
			Shape:    []int64{int64(len(rows)), int64(cols)},
			Datatype: types.DatatypeBytes,
			Data:     data,
		}},
	}
}

var errBoom = errors.New("boom")

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
