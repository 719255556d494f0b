// Package prepare lays out a model repository entry for serving: directory
// tree, weights, model configuration and handler settings.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"llmserve/internal/fetch"
	"llmserve/internal/llm"
	"llmserve/internal/modelconfig"
	"llmserve/internal/modelrepo"
)

// Options describe one deployment.
type Options struct {
	Repo    string
	Model   string
	Version int64
	Backend string
	// Source is a fetch URL. Empty skips the download (weights already in place).
	Source  string
	Include []string
	// MaxBatchSize, PreferredBatchSizes and MaxQueueDelay override the
	// defaults when set.
	MaxBatchSize        int
	PreferredBatchSizes []int
	MaxQueueDelay       time.Duration
	InstanceCount       int
	InstanceKind        modelconfig.InstanceKind
	ContextSize         int
	Threads             int
	GPULayers           int
	// WritePBTXT also renders config.pbtxt next to config.yaml.
	WritePBTXT bool
	// Overwrite replaces an existing config.yaml.
	Overwrite bool
	Fetch     fetch.Options
	Logger    zerolog.Logger
}

// Result reports what was written.
type Result struct {
	Layout  modelrepo.Layout
	Config  modelconfig.ModelConfig
	Handler modelrepo.HandlerSpec
	Fetched fetch.Result
}

// Run executes the steps in order and stops at the first failure.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Version == 0 {
		opts.Version = 1
	}
	if opts.Backend == "" {
		opts.Backend = llm.KindLlamaServer
	}
	log := opts.Logger.With().Str("model", opts.Model).Int64("version", opts.Version).Logger()
	layout, err := modelrepo.NewLayout(opts.Repo, opts.Model, opts.Version)
	if err != nil {
		return Result{}, fmt.Errorf("layout: %w", err)
	}
	res := Result{Layout: layout}

	cfg := buildConfig(opts)
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	res.Config = cfg

	if err := layout.Create(); err != nil {
		return res, err
	}
	log.Info().Str("dir", layout.VersionDir()).Msg("layout created")

	if opts.Source != "" {
		src, err := fetch.Open(opts.Source, withInclude(opts))
		if err != nil {
			return res, err
		}
		start := time.Now()
		fetched, err := src.Fetch(ctx, layout.WeightsDir())
		if err != nil {
			return res, fmt.Errorf("fetch weights: %w", err)
		}
		res.Fetched = fetched
		log.Info().Str("source", src.String()).Int("files", len(fetched.Files)).Int64("bytes", fetched.Bytes).Dur("dur", time.Since(start)).Msg("weights fetched")
	}

	hs, err := buildHandlerSpec(opts, layout, res.Fetched)
	if err != nil {
		return res, err
	}
	if _, err := layout.ModelSpec(hs); err != nil {
		return res, fmt.Errorf("handler settings: %w", err)
	}
	res.Handler = hs

	if err := writeConfig(layout, cfg, opts); err != nil {
		return res, err
	}
	if err := modelrepo.WriteHandlerSpec(layout.HandlerPath(), hs); err != nil {
		return res, fmt.Errorf("write handler settings: %w", err)
	}
	log.Info().Str("config", layout.ConfigPath()).Str("handler", layout.HandlerPath()).Msg("model prepared")
	return res, nil
}

func buildConfig(opts Options) modelconfig.ModelConfig {
	cfg := modelconfig.Default(opts.Model, opts.Backend)
	if opts.MaxBatchSize > 0 {
		cfg.MaxBatchSize = opts.MaxBatchSize
	}
	if len(opts.PreferredBatchSizes) > 0 {
		cfg.DynamicBatching.PreferredBatchSize = append([]int(nil), opts.PreferredBatchSizes...)
	}
	if opts.MaxQueueDelay > 0 {
		cfg.DynamicBatching.MaxQueueDelayMicroseconds = opts.MaxQueueDelay.Microseconds()
	}
	if opts.InstanceCount > 0 {
		cfg.InstanceGroup[0].Count = opts.InstanceCount
	}
	if opts.InstanceKind != "" {
		cfg.InstanceGroup[0].Kind = opts.InstanceKind
	}
	return cfg
}

// withInclude defaults the weight filter to GGUF files for the llama
// backends, which load nothing else.
func withInclude(opts Options) fetch.Options {
	fo := opts.Fetch
	fo.Logger = opts.Logger
	switch {
	case len(opts.Include) > 0:
		fo.Include = opts.Include
	case opts.Backend == llm.KindLlama || opts.Backend == llm.KindLlamaServer:
		fo.Include = []string{"*.gguf"}
	}
	return fo
}

func buildHandlerSpec(opts Options, layout modelrepo.Layout, fetched fetch.Result) (modelrepo.HandlerSpec, error) {
	hs := modelrepo.HandlerSpec{
		Source:      opts.Source,
		ContextSize: opts.ContextSize,
		Threads:     opts.Threads,
		GPULayers:   opts.GPULayers,
	}
	if opts.Backend == llm.KindOllama {
		hs.OllamaModel = fetched.OllamaModel
		if hs.OllamaModel == "" {
			name, ok := strings.CutPrefix(opts.Source, "ollama://")
			if !ok || name == "" {
				return hs, errors.New("ollama backend needs an ollama:// source")
			}
			hs.OllamaModel = name
		}
		return hs, nil
	}
	files, err := modelrepo.ScanGGUF(layout.WeightsDir())
	if err != nil {
		return hs, err
	}
	if len(files) == 0 {
		return hs, fmt.Errorf("no .gguf weights under %s", layout.WeightsDir())
	}
	vdir, err := filepath.Abs(layout.VersionDir())
	if err != nil {
		return hs, err
	}
	rel, err := filepath.Rel(vdir, files[0])
	if err != nil {
		return hs, err
	}
	hs.Weights = filepath.ToSlash(rel)
	return hs, nil
}

func writeConfig(layout modelrepo.Layout, cfg modelconfig.ModelConfig, opts Options) error {
	path := layout.ConfigPath()
	if existing, err := modelrepo.FindConfig(layout.ModelDir()); err == nil && !opts.Overwrite {
		// Versions share one config; keep an operator-edited file.
		if _, err := modelconfig.Load(existing); err != nil {
			return fmt.Errorf("existing config %s: %w", existing, err)
		}
		opts.Logger.Info().Str("config", existing).Msg("keeping existing model config")
		return nil
	}
	if err := modelconfig.Write(path, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if opts.WritePBTXT {
		if err := modelconfig.Write(layout.PBTXTPath(), cfg); err != nil {
			return fmt.Errorf("write config.pbtxt: %w", err)
		}
	}
	return nil
}
