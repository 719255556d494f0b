package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"llmserve/internal/llm"
)

// Config holds runtime parameters for the server.
// Load starts from Default, so keys missing from a file keep their defaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
	Repo        string `json:"repo" yaml:"repo" toml:"repo"`

	LlamaServerBin      string   `json:"llama_server_bin" yaml:"llama_server_bin" toml:"llama_server_bin"`
	LlamaHost           string   `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	PortStart           int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd             int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ReadyTimeoutSeconds int      `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds" toml:"ready_timeout_seconds"`
	LlamaExtraArgs      []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args"`
	OllamaHost          string   `json:"ollama_host" yaml:"ollama_host" toml:"ollama_host"`

	MaxQueueDepth        int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS            int `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	PromptTimeoutSeconds int `json:"prompt_timeout_seconds" yaml:"prompt_timeout_seconds" toml:"prompt_timeout_seconds"`

	InferTimeoutSeconds    int64 `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`
	MaxBodyBytes           int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ShutdownTimeoutSeconds int   `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers"`

	// LogLevel is a zerolog level name; LogFormat is json or console.
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// HTTPLogLevel is the per-request log level (off|error|info|debug).
	HTTPLogLevel string `json:"http_log_level" yaml:"http_log_level" toml:"http_log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                   ":8000",
		MetricsAddr:            ":8002",
		Repo:                   "~/models/llmserve",
		LlamaServerBin:         "llama-server",
		LlamaHost:              "127.0.0.1",
		PortStart:              31000,
		PortEnd:                31999,
		ReadyTimeoutSeconds:    300,
		MaxQueueDepth:          32,
		MaxWaitMS:              30000,
		ShutdownTimeoutSeconds: 10,
		CORSMethods:            []string{"GET", "POST", "OPTIONS"},
		CORSHeaders:            []string{"Content-Type", "X-Log-Level"},
		LogLevel:               "info",
		LogFormat:              "console",
		HTTPLogLevel:           "off",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LLMSERVE_* variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	str("LLMSERVE_ADDR", &c.Addr)
	str("LLMSERVE_METRICS_ADDR", &c.MetricsAddr)
	str("LLMSERVE_REPO", &c.Repo)
	str("LLMSERVE_LLAMA_SERVER_BIN", &c.LlamaServerBin)
	str("LLMSERVE_OLLAMA_HOST", &c.OllamaHost)
	str("LLMSERVE_LOG_LEVEL", &c.LogLevel)
	str("LLMSERVE_LOG_FORMAT", &c.LogFormat)
	str("LLMSERVE_HTTP_LOG_LEVEL", &c.HTTPLogLevel)
	num("LLMSERVE_MAX_QUEUE_DEPTH", &c.MaxQueueDepth)
	num("LLMSERVE_MAX_WAIT_MS", &c.MaxWaitMS)
	num("LLMSERVE_PROMPT_TIMEOUT_SECONDS", &c.PromptTimeoutSeconds)
	if v := getenv("LLMSERVE_CORS_ORIGINS"); v != "" {
		c.CORSEnabled = true
		c.CORSOrigins = SplitCSV(v)
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.Repo == "" {
		errs = append(errs, errors.New("repo is required"))
	}
	// 0-0 lets the OS pick llama-server ports.
	if (c.PortStart != 0 || c.PortEnd != 0) && (c.PortStart <= 0 || c.PortEnd < c.PortStart || c.PortEnd > 65535) {
		errs = append(errs, fmt.Errorf("invalid port range %d-%d", c.PortStart, c.PortEnd))
	}
	if c.MaxQueueDepth < 0 || c.MaxWaitMS < 0 || c.PromptTimeoutSeconds < 0 {
		errs = append(errs, errors.New("queue and timeout settings must not be negative"))
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.Addr {
		errs = append(errs, fmt.Errorf("metrics_addr must differ from addr (%s)", c.Addr))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want json or console", c.LogFormat))
	}
	return errors.Join(errs...)
}

// MaxWait is how long a request may wait for batcher queue space.
func (c Config) MaxWait() time.Duration { return time.Duration(c.MaxWaitMS) * time.Millisecond }

// PromptTimeout bounds one generation; zero disables it.
func (c Config) PromptTimeout() time.Duration {
	return time.Duration(c.PromptTimeoutSeconds) * time.Second
}

// Backend converts the backend settings for llm.New.
func (c Config) Backend(log zerolog.Logger) llm.BackendConfig {
	return llm.BackendConfig{
		LlamaServerBin: c.LlamaServerBin,
		LlamaHost:      c.LlamaHost,
		PortStart:      c.PortStart,
		PortEnd:        c.PortEnd,
		ReadyTimeout:   time.Duration(c.ReadyTimeoutSeconds) * time.Second,
		ExtraArgs:      append([]string(nil), c.LlamaExtraArgs...),
		OllamaHost:     c.OllamaHost,
		Logger:         log,
	}
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
