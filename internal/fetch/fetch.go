// Package fetch downloads model weights into a local directory from a model
// hub, a GCS bucket, an Ollama daemon or the local filesystem.
//
// Sources are URLs:
//
//	hf://org/repo[@revision]
//	gs://bucket/prefix
//	ollama://name[:tag]
//	file:///abs/path or a plain path
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the source names nothing that exists.
var ErrNotFound = errors.New("fetch: source not found")

const (
	defaultHFEndpoint  = "https://huggingface.co"
	defaultConcurrency = 4
)

// Options tune a fetch.
type Options struct {
	// Include limits files to those whose relative path or base name matches
	// one of the glob patterns. Empty means everything.
	Include []string
	// Concurrency bounds parallel file downloads.
	Concurrency int
	// HFEndpoint overrides the Hugging Face hub base URL.
	HFEndpoint string
	// OllamaHost overrides OLLAMA_HOST for ollama:// sources.
	OllamaHost string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.HFEndpoint == "" {
		o.HFEndpoint = defaultHFEndpoint
	}
	o.HFEndpoint = strings.TrimRight(o.HFEndpoint, "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// Result describes what a fetch produced.
type Result struct {
	// Files are the written paths relative to the destination, sorted.
	Files []string
	Bytes int64
	// OllamaModel is set for ollama:// sources, which keep weights inside
	// the daemon instead of the destination directory.
	OllamaModel string
}

// Source fetches into a destination directory.
type Source interface {
	Fetch(ctx context.Context, dest string) (Result, error)
	String() string
}

// Open parses a source URL.
func Open(source string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	s := strings.TrimSpace(source)
	if s == "" {
		return nil, errors.New("fetch: empty source")
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return &localSource{root: s, opts: opts}, nil
	}
	switch scheme {
	case "hf":
		return newHFSource(rest, opts)
	case "gs":
		return newGCSSource(rest, opts)
	case "ollama":
		return newOllamaSource(rest, opts)
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("fetch: empty path in %q", source)
		}
		return &localSource{root: rest, opts: opts}, nil
	default:
		return nil, fmt.Errorf("fetch: unsupported scheme %q in %q", scheme, source)
	}
}

// included reports whether rel passes the include filter.
func (o Options) included(rel string) bool {
	if len(o.Include) == 0 {
		return true
	}
	base := path.Base(rel)
	for _, pat := range o.Include {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}

// safeRel rejects object names that would escape the destination.
func safeRel(name string) (string, error) {
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("fetch: unsafe file name %q", name)
	}
	return clean, nil
}
