package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// ollamaAdapter delegates loading and generation to an Ollama daemon.
type ollamaAdapter struct {
	client *ollama.Client
	log    zerolog.Logger
}

// NewOllamaAdapter builds a client from cfg.OllamaHost, falling back to the
// OLLAMA_HOST environment.
func NewOllamaAdapter(cfg BackendConfig) (Adapter, error) {
	client, err := newOllamaClient(cfg.OllamaHost)
	if err != nil {
		return nil, err
	}
	return &ollamaAdapter{client: client, log: cfg.Logger}, nil
}

func newOllamaClient(host string) (*ollama.Client, error) {
	if strings.TrimSpace(host) == "" {
		return ollama.ClientFromEnvironment()
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	return ollama.NewClient(u, http.DefaultClient), nil
}

type ollamaSession struct {
	client *ollama.Client
	model  string
}

// Load checks that the daemon knows the model. Ollama loads weights lazily on
// the first generation, so this only fails for unknown models or an
// unreachable daemon.
func (a *ollamaAdapter) Load(ctx context.Context, spec ModelSpec) (Session, error) {
	name := spec.OllamaModel
	if name == "" {
		return nil, errors.New("ollama model name is empty")
	}
	if _, err := a.client.Show(ctx, &ollama.ShowRequest{Model: name}); err != nil {
		return nil, fmt.Errorf("%w: ollama show %q: %v", ErrUnavailable, name, err)
	}
	a.log.Info().Str("model", spec.Name).Int64("version", spec.Version).Str("ollama_model", name).Msg("ollama model available")
	return &ollamaSession{client: a.client, model: name}, nil
}

func (s *ollamaSession) Generate(ctx context.Context, prompt string, p Params) (Result, error) {
	stream := false
	opts := map[string]any{
		"num_predict": p.MaxTokens,
		"temperature": p.effectiveTemperature(),
	}
	if p.TopK > 0 {
		opts["top_k"] = p.TopK
	}
	if p.TopP > 0 {
		opts["top_p"] = p.TopP
	}
	if p.Seed != 0 {
		opts["seed"] = p.Seed
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	req := &ollama.GenerateRequest{
		Model:   s.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: opts,
	}
	var res Result
	var b strings.Builder
	err := s.client.Generate(ctx, req, func(r ollama.GenerateResponse) error {
		b.WriteString(r.Response)
		if r.Done {
			res.FinishReason = r.DoneReason
			res.Usage = Usage{
				PromptTokens:     r.PromptEvalCount,
				CompletionTokens: r.EvalCount,
				TotalTokens:      r.PromptEvalCount + r.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("ollama generate: %w", err)
	}
	res.Text = b.String()
	return res, nil
}

func (s *ollamaSession) Close() error { return nil }
