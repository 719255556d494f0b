package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"llmserve/internal/config"
	"llmserve/internal/httpapi"
	"llmserve/internal/manager"
)

func newServeCmd(root *rootOptions, logOut io.Writer) *cobra.Command {
	var configPath string
	fl := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model repository and serve inference over HTTP",
		Example: "  llmserve serve --repo ~/models/llmserve\n" +
			"  llmserve serve --config /etc/llmserve.yaml --addr :9000",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, fl, os.Getenv)
			if err != nil {
				return err
			}
			log, err := newLogger(logOut, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", os.Getenv("LLMSERVE_CONFIG"), "Config file (.yaml, .json or .toml)")
	f.StringVar(&fl.Addr, "addr", fl.Addr, "HTTP listen address for the inference API")
	f.StringVar(&fl.MetricsAddr, "metrics-addr", fl.MetricsAddr, "HTTP listen address for /metrics (empty disables)")
	f.StringVar(&fl.Repo, "repo", fl.Repo, "Model repository root")
	f.StringVar(&fl.LlamaServerBin, "llama-server-bin", fl.LlamaServerBin, "llama-server executable")
	f.IntVar(&fl.PortStart, "port-start", fl.PortStart, "First port for llama-server instances")
	f.IntVar(&fl.PortEnd, "port-end", fl.PortEnd, "Last port for llama-server instances")
	f.StringVar(&fl.OllamaHost, "ollama-host", fl.OllamaHost, "Ollama daemon address (defaults OLLAMA_HOST)")
	f.IntVar(&fl.MaxQueueDepth, "max-queue-depth", fl.MaxQueueDepth, "Queued requests per model version")
	f.IntVar(&fl.MaxWaitMS, "max-wait-ms", fl.MaxWaitMS, "How long a request waits for queue space before 429")
	f.IntVar(&fl.PromptTimeoutSeconds, "prompt-timeout", fl.PromptTimeoutSeconds, "Per-prompt generation timeout in seconds (0 disables)")
	f.Int64Var(&fl.InferTimeoutSeconds, "infer-timeout", fl.InferTimeoutSeconds, "Per-request timeout in seconds (0 disables)")
	f.Int64Var(&fl.MaxBodyBytes, "max-body-bytes", fl.MaxBodyBytes, "Maximum infer request body size (0 uses 8 MiB)")
	f.StringSliceVar(&fl.CORSOrigins, "cors-origins", nil, "Enable CORS for these origins")
	f.StringVar(&fl.HTTPLogLevel, "http-log-level", fl.HTTPLogLevel, "Per-request log level: off|error|info|debug")
	return cmd
}

// resolveConfig layers defaults, the config file, LLMSERVE_* variables and
// explicitly set flags, in that order.
func resolveConfig(cmd *cobra.Command, path string, fl config.Config, getenv func(string) string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}
	root := cmd.Root().PersistentFlags()
	overrides := map[string]func(*config.Config){
		"addr":             func(c *config.Config) { c.Addr = fl.Addr },
		"metrics-addr":     func(c *config.Config) { c.MetricsAddr = fl.MetricsAddr },
		"repo":             func(c *config.Config) { c.Repo = fl.Repo },
		"llama-server-bin": func(c *config.Config) { c.LlamaServerBin = fl.LlamaServerBin },
		"port-start":       func(c *config.Config) { c.PortStart = fl.PortStart },
		"port-end":         func(c *config.Config) { c.PortEnd = fl.PortEnd },
		"ollama-host":      func(c *config.Config) { c.OllamaHost = fl.OllamaHost },
		"max-queue-depth":  func(c *config.Config) { c.MaxQueueDepth = fl.MaxQueueDepth },
		"max-wait-ms":      func(c *config.Config) { c.MaxWaitMS = fl.MaxWaitMS },
		"prompt-timeout":   func(c *config.Config) { c.PromptTimeoutSeconds = fl.PromptTimeoutSeconds },
		"infer-timeout":    func(c *config.Config) { c.InferTimeoutSeconds = fl.InferTimeoutSeconds },
		"max-body-bytes":   func(c *config.Config) { c.MaxBodyBytes = fl.MaxBodyBytes },
		"http-log-level":   func(c *config.Config) { c.HTTPLogLevel = fl.HTTPLogLevel },
		"cors-origins": func(c *config.Config) {
			c.CORSEnabled = true
			c.CORSOrigins = fl.CORSOrigins
		},
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply(&cfg)
		}
	}
	if f := root.Lookup("log-level"); f != nil && f.Changed {
		cfg.LogLevel = f.Value.String()
	}
	if f := root.Lookup("log-format"); f != nil && f.Changed {
		cfg.LogFormat = f.Value.String()
	}
	return cfg, cfg.Validate()
}

// runServe blocks until ctx is canceled or a listener fails. Models load in
// the background so liveness answers while weights are read.
func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.HTTPLogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSeconds)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)

	mgr := manager.New(manager.Config{
		Repo:          cfg.Repo,
		Backend:       cfg.Backend(log.With().Str("component", "llm").Logger()),
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
		PromptTimeout: cfg.PromptTimeout(),
		ServerVersion: version,
		Logger:        log.With().Str("component", "manager").Logger(),
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	api := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr), ReadHeaderTimeout: 10 * time.Second}
	var metrics *http.Server
	if cfg.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", httpapi.MetricsHandler())
		metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("repo", cfg.Repo).Str("version", version).Msg("llmserve listening")
		return listen(api, "api")
	})
	if metrics != nil {
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			return listen(metrics, "metrics")
		})
	}
	g.Go(func() error {
		if err := mgr.Load(gctx); err != nil {
			log.Error().Err(err).Msg("model repository loaded with errors")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		err := api.Shutdown(sctx)
		if metrics != nil {
			err = errors.Join(err, metrics.Shutdown(sctx))
		}
		// In-flight generations that outlived the drain are aborted.
		cancelBase()
		return err
	})

	err := g.Wait()
	if cerr := mgr.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func listen(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s listener: %w", name, err)
	}
	return nil
}
