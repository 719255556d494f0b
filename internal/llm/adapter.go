// Package llm binds loaded model weights to a text-generation routine.
//
// An Adapter knows how to load one kind of backend; the Session it returns owns
// the loaded tokenizer and model and is reused for every prompt until Close.
// Keep this surface small: the heavy lifting stays in the backend runtime.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backend kinds accepted by New.
const (
	KindLlama       = "llama"
	KindLlamaServer = "llama_server"
	KindOllama      = "ollama"
)

// Adapter loads a model into a Session.
type Adapter interface {
	Load(ctx context.Context, spec ModelSpec) (Session, error)
}

// Session is a loaded tokenizer + causal language model.
type Session interface {
	// Generate returns one completion for prompt. Implementations must return
	// when ctx is canceled.
	Generate(ctx context.Context, prompt string, p Params) (Result, error)
	// Close releases the model. It is safe to call more than once.
	Close() error
}

// ModelSpec locates the weights of one model version on disk.
type ModelSpec struct {
	Name    string
	Version int64
	// Dir is the version directory.
	Dir string
	// WeightsPath is the weights file (llama, llama_server) or directory.
	WeightsPath string
	// OllamaModel names the model inside an Ollama daemon.
	OllamaModel string
	ContextSize int
	Threads     int
	GPULayers   int
}

// Params are sampling parameters for a single generation.
type Params struct {
	MaxTokens    int
	DoSample     bool
	TopK         int
	TopP         float32
	Temperature  float32
	NumSequences int
	Seed         int
	Stop         []string
}

// effectiveTemperature maps DoSample=false to greedy decoding.
func (p Params) effectiveTemperature() float32 {
	if !p.DoSample {
		return 0
	}
	return p.Temperature
}

// Result is one generated sequence.
type Result struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting when the backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// BackendConfig carries process-wide backend settings.
type BackendConfig struct {
	// llama_server
	LlamaServerBin string
	LlamaHost      string
	PortStart      int
	PortEnd        int
	ReadyTimeout   time.Duration
	ExtraArgs      []string
	// ollama; empty means OLLAMA_HOST or the default daemon address.
	OllamaHost string

	Logger zerolog.Logger
}

// New returns the adapter for a backend kind.
func New(kind string, cfg BackendConfig) (Adapter, error) {
	switch kind {
	case KindLlama:
		return NewLlamaAdapter(cfg), nil
	case KindLlamaServer:
		return NewLlamaServerAdapter(cfg), nil
	case KindOllama:
		return NewOllamaAdapter(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s|%s|%s)", kind, KindLlama, KindLlamaServer, KindOllama)
	}
}

// LlamaBuilt reports whether the in-process llama backend is compiled in.
func LlamaBuilt() bool { return llamaBuilt }
