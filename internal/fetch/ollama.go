package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
)

// ollamaSource pulls a model into an Ollama daemon. Nothing is written to
// the destination; the handler settings reference the model by name.
type ollamaSource struct {
	model string
	opts  Options
}

func newOllamaSource(rest string, opts Options) (*ollamaSource, error) {
	name := strings.Trim(rest, "/")
	if name == "" {
		return nil, fmt.Errorf("fetch: ollama source needs a model name")
	}
	return &ollamaSource{model: name, opts: opts}, nil
}

func (s *ollamaSource) String() string { return "ollama://" + s.model }

func (s *ollamaSource) client() (*ollama.Client, error) {
	host := strings.TrimSpace(s.opts.OllamaHost)
	if host == "" {
		return ollama.ClientFromEnvironment()
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	hc := s.opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return ollama.NewClient(u, hc), nil
}

func (s *ollamaSource) Fetch(ctx context.Context, dest string) (Result, error) {
	client, err := s.client()
	if err != nil {
		return Result{}, err
	}
	log := s.opts.Logger.With().Str("source", s.String()).Logger()
	lastStatus := ""
	var completed int64
	err = client.Pull(ctx, &ollama.PullRequest{Model: s.model}, func(p ollama.ProgressResponse) error {
		if p.Status != lastStatus {
			log.Info().Str("status", p.Status).Msg("ollama pull")
			lastStatus = p.Status
		}
		if p.Completed > 0 {
			completed = p.Completed
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ollama pull %q: %w", s.model, err)
	}
	return Result{OllamaModel: s.model, Bytes: completed}, nil
}
