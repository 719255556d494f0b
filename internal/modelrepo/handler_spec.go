package modelrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"llmserve/internal/llm"
)

// HandlerSpec is the per-version handler settings file. Weights is relative
// to the version directory.
type HandlerSpec struct {
	// Source records where the weights came from, e.g. hf://org/repo@main.
	Source      string `yaml:"source,omitempty"`
	Weights     string `yaml:"weights,omitempty"`
	OllamaModel string `yaml:"ollama_model,omitempty"`
	ContextSize int    `yaml:"context_size,omitempty"`
	Threads     int    `yaml:"threads,omitempty"`
	GPULayers   int    `yaml:"gpu_layers,omitempty"`
}

// LoadHandlerSpec reads a handler.yaml.
func LoadHandlerSpec(path string) (HandlerSpec, error) {
	var hs HandlerSpec
	b, err := os.ReadFile(path)
	if err != nil {
		return hs, err
	}
	if err := yaml.Unmarshal(b, &hs); err != nil {
		return hs, fmt.Errorf("parse %s: %w", path, err)
	}
	return hs, nil
}

// WriteHandlerSpec writes hs as YAML.
func WriteHandlerSpec(path string, hs HandlerSpec) error {
	b, err := yaml.Marshal(hs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ModelSpec resolves hs against the layout into what a backend loads. When
// Weights is empty the first GGUF file under the weights directory is used.
func (l Layout) ModelSpec(hs HandlerSpec) (llm.ModelSpec, error) {
	spec := llm.ModelSpec{
		Name:        l.Model,
		Version:     l.Version,
		Dir:         l.VersionDir(),
		OllamaModel: hs.OllamaModel,
		ContextSize: hs.ContextSize,
		Threads:     hs.Threads,
		GPULayers:   hs.GPULayers,
	}
	switch {
	case hs.Weights != "":
		if filepath.IsAbs(hs.Weights) {
			spec.WeightsPath = hs.Weights
		} else {
			spec.WeightsPath = filepath.Join(l.VersionDir(), hs.Weights)
		}
	case hs.OllamaModel == "":
		files, err := ScanGGUF(l.WeightsDir())
		if err != nil {
			return spec, err
		}
		if len(files) == 0 {
			return spec, fmt.Errorf("no .gguf weights under %s", l.WeightsDir())
		}
		spec.WeightsPath = files[0]
	}
	return spec, nil
}

// ScanGGUF walks dir for *.gguf files (case-insensitive) and returns their
// absolute paths sorted. Split shards sort so the first shard comes first.
func ScanGGUF(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	var out []string
	err = filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && p == abs {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != abs && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".gguf") {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
