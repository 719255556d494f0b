package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nrepo: /tmp/repo\nmax_queue_depth: 7\nllama_extra_args: [--flash-attn]\ncors_origins: ['http://a']\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Repo != "/tmp/repo" || cfg.MaxQueueDepth != 7 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.LlamaExtraArgs) != 1 || cfg.CORSOrigins[0] != "http://a" {
		t.Fatalf("lists not decoded: %+v", cfg)
	}
	if cfg.MetricsAddr != Default().MetricsAddr || cfg.LogLevel != "info" {
		t.Fatalf("missing keys should keep defaults: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","repo":"/m","port_start":100,"port_end":200,"max_wait_ms":50}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Repo != "/m" || cfg.PortStart != 100 || cfg.PortEnd != 200 || cfg.MaxWait() != 50*time.Millisecond {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nrepo=\"/x\"\nprompt_timeout_seconds=9\nlog_format=\"json\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Repo != "/x" || cfg.PromptTimeout() != 9*time.Second || cfg.LogFormat != "json" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	d := t.TempDir()
	cases := map[string]string{
		"cfg.txt":  "not supported",
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "repo": }`,
		"bad.toml": "addr=:8080\nrepo\n",
	}
	for name, body := range cases {
		if _, err := Load(writeTempFile(t, d, name, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LLMSERVE_ADDR":            ":1234",
		"LLMSERVE_REPO":            "/env/repo",
		"LLMSERVE_MAX_QUEUE_DEPTH": "3",
		"LLMSERVE_CORS_ORIGINS":    "http://a, http://b",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Addr != ":1234" || cfg.Repo != "/env/repo" || cfg.MaxQueueDepth != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.CORSEnabled || len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors not applied: %+v", cfg)
	}

	env = map[string]string{"LLMSERVE_MAX_WAIT_MS": "soon"}
	err := cfg.ApplyEnv(func(k string) string { return env[k] })
	if err == nil || !strings.Contains(err.Error(), "LLMSERVE_MAX_WAIT_MS") {
		t.Fatalf("expected parse error naming the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := Default()
	cfg.PortStart, cfg.PortEnd = 0, 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("ephemeral ports should be valid: %v", err)
	}

	cfg = Default()
	cfg.PortStart, cfg.PortEnd = 500, 100
	cfg.MetricsAddr = cfg.Addr
	cfg.LogFormat = "xml"
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"port range", "metrics_addr", "log_format", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestBackend(t *testing.T) {
	cfg := Default()
	cfg.LlamaExtraArgs = []string{"--mlock"}
	b := cfg.Backend(zerolog.Nop())
	if b.LlamaServerBin != "llama-server" || b.ReadyTimeout != 300*time.Second || b.PortEnd != 31999 {
		t.Fatalf("unexpected backend config: %+v", b)
	}
	cfg.LlamaExtraArgs[0] = "--changed"
	if b.ExtraArgs[0] != "--mlock" {
		t.Fatal("extra args aliased")
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := SplitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}
