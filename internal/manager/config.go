package manager

import (
	"time"

	"github.com/rs/zerolog"

	"llmserve/internal/common/fsutil"
	"llmserve/internal/llm"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	// Repo is the model repository root.
	Repo string
	// Backend carries process-wide settings passed to llm.New.
	Backend llm.BackendConfig
	// NewAdapter builds the adapter for a backend kind. Nil means llm.New
	// with Backend.
	NewAdapter func(kind string) (llm.Adapter, error)
	// MaxQueueDepth bounds queued requests per version unless the model
	// config sets max_queue_size.
	MaxQueueDepth int
	// MaxWait bounds how long a request waits for a queue slot before it is
	// rejected as too busy.
	MaxWait time.Duration
	// PromptTimeout bounds each generation. Zero means unbounded.
	PromptTimeout time.Duration
	// ServerVersion is reported by ServerMetadata.
	ServerVersion string
	Logger        zerolog.Logger
	Publisher     EventPublisher
}

func (c Config) withDefaults() Config {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if r, err := fsutil.ExpandHome(c.Repo); err == nil {
		c.Repo = r
	}
	if c.ServerVersion == "" {
		c.ServerVersion = "dev"
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.NewAdapter == nil {
		backend := c.Backend
		c.NewAdapter = func(kind string) (llm.Adapter, error) { return llm.New(kind, backend) }
	}
	return c
}
