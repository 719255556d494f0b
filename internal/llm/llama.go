//go:build llama

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// llamaBuilt indicates this binary was compiled with in-process llama support.
const llamaBuilt = true

type llamaAdapter struct {
	log zerolog.Logger
}

// NewLlamaAdapter returns the in-process go-llama.cpp adapter.
func NewLlamaAdapter(cfg BackendConfig) Adapter {
	return &llamaAdapter{log: cfg.Logger}
}

// llamaSession owns the loaded model. go-llama.cpp keeps one token callback per
// model, so Generate calls are serialized.
type llamaSession struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
}

func (a *llamaAdapter) Load(ctx context.Context, spec ModelSpec) (Session, error) {
	if strings.TrimSpace(spec.WeightsPath) == "" {
		return nil, errors.New("weights path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{}
	if spec.ContextSize > 0 {
		mo = append(mo, llama.SetContext(spec.ContextSize))
	}
	if spec.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(spec.GPULayers))
	}
	m, err := llama.New(spec.WeightsPath, mo...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", spec.WeightsPath, err)
	}
	a.log.Info().Str("model", spec.Name).Int64("version", spec.Version).Str("weights", spec.WeightsPath).Msg("llama model loaded")
	return &llamaSession{model: m, threads: spec.Threads}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, p Params) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return Result{}, ErrClosed
	}
	// Stop predicting once the caller gives up.
	s.model.SetTokenCallback(func(string) bool {
		return ctx.Err() == nil
	})
	text, err := s.model.Predict(prompt, predictOptions(p, s.threads)...)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, FinishReason: "stop"}, nil
}

func (s *llamaSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts Params into go-llama.cpp options.
func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(p.effectiveTemperature()),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
