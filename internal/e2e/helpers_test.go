// Package e2e drives the whole stack in-process: prepare lays out a
// repository, the manager loads it behind the HTTP API, and the smoke client
// talks to it over a real socket.
package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"llmserve/internal/httpapi"
	"llmserve/internal/llm"
	"llmserve/internal/manager"
	"llmserve/internal/prepare"
	"llmserve/internal/smoke"
)

// echoAdapter stands in for a real backend. Sessions answer "gen:<prompt>".
type echoAdapter struct{}

func (echoAdapter) Load(ctx context.Context, spec llm.ModelSpec) (llm.Session, error) {
	if _, err := os.Stat(spec.WeightsPath); err != nil {
		return nil, err
	}
	return echoSession{}, nil
}

type echoSession struct{}

func (echoSession) Generate(ctx context.Context, prompt string, p llm.Params) (llm.Result, error) {
	return llm.Result{Text: "gen:" + prompt}, nil
}

func (echoSession) Close() error { return nil }

// prepareModel lays out name/version 1 in repo from a placeholder GGUF file.
func prepareModel(t *testing.T, repo, name string) {
	t.Helper()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "model.Q4_K_M.gguf"), []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	if _, err := prepare.Run(context.Background(), prepare.Options{
		Repo:                repo,
		Model:               name,
		Source:              src,
		MaxBatchSize:        4,
		PreferredBatchSizes: []int{2, 4},
		InstanceCount:       2,
	}); err != nil {
		t.Fatalf("prepare %s: %v", name, err)
	}
}

// newServerForRepo loads repo and serves it. Both are torn down with t.
func newServerForRepo(t *testing.T, repo string) (*smoke.Client, *manager.Manager) {
	t.Helper()
	mgr := manager.New(manager.Config{
		Repo:       repo,
		NewAdapter: func(string) (llm.Adapter, error) { return echoAdapter{}, nil },
		MaxWait:    time.Second,
	})
	if err := mgr.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return smoke.NewClient(srv.URL), mgr
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
