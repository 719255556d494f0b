//go:build !llama

package llm

// No-CGO stub compiled when the 'llama' build tag is NOT set, keeping default
// builds CGO-free. The real adapter lives in llama.go.

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const llamaBuilt = false

type llamaAdapter struct {
	log zerolog.Logger
}

// NewLlamaAdapter returns an adapter that refuses to load without llama support.
func NewLlamaAdapter(cfg BackendConfig) Adapter {
	return &llamaAdapter{log: cfg.Logger}
}

func (a *llamaAdapter) Load(ctx context.Context, spec ModelSpec) (Session, error) {
	a.log.Warn().Str("model", spec.Name).Msg("llama backend requested but binary built without 'llama' tag")
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrUnavailable)
}
