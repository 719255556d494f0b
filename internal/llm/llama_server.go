package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const defaultReadyTimeout = 120 * time.Second

// llamaServerAdapter spawns one llama.cpp server per loaded session and talks
// to it over its OpenAI-compatible HTTP API.
type llamaServerAdapter struct {
	cfg        BackendConfig
	httpClient *http.Client
	log        zerolog.Logger
}

// NewLlamaServerAdapter constructs a subprocess-backed adapter.
func NewLlamaServerAdapter(cfg BackendConfig) Adapter {
	if strings.TrimSpace(cfg.LlamaHost) == "" {
		cfg.LlamaHost = "127.0.0.1"
	}
	if cfg.LlamaServerBin == "" {
		cfg.LlamaServerBin = "llama-server"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	// Timeout=0: every call carries a context deadline instead.
	return &llamaServerAdapter{cfg: cfg, httpClient: &http.Client{Timeout: 0}, log: cfg.Logger}
}

type llamaServerSession struct {
	a       *llamaServerAdapter
	baseURL string

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	closed bool
}

func (a *llamaServerAdapter) Load(ctx context.Context, spec ModelSpec) (Session, error) {
	if strings.TrimSpace(spec.WeightsPath) == "" {
		return nil, errors.New("weights path is empty")
	}
	host := a.cfg.LlamaHost
	var port int
	var err error
	if a.cfg.PortStart > 0 && a.cfg.PortEnd >= a.cfg.PortStart {
		port, err = pickPortInRange(host, a.cfg.PortStart, a.cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))

	args := []string{"-m", spec.WeightsPath, "--host", host, "--port", strconv.Itoa(port)}
	if spec.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(spec.ContextSize))
	}
	if spec.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(spec.GPULayers))
	}
	if spec.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(spec.Threads))
	}
	args = append(args, a.cfg.ExtraArgs...)

	cmd := exec.Command(a.cfg.LlamaServerBin, args...)
	// stderr tail is reported when the process dies before it is ready.
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start llama-server: %v", ErrUnavailable, err)
	}
	log := a.log.With().Str("model", spec.Name).Int64("version", spec.Version).Int("pid", cmd.Process.Pid).Str("url", baseURL).Logger()
	log.Info().Msg("llama-server started")

	s := &llamaServerSession{a: a, baseURL: baseURL, cmd: cmd, exited: make(chan struct{})}
	waitErr := make(chan error, 1)
	go func() {
		werr := cmd.Wait()
		waitErr <- werr
		close(s.exited)
	}()

	deadline := time.NewTimer(a.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case werr := <-waitErr:
			log.Error().Err(werr).Msg("llama-server exited before ready")
			return nil, fmt.Errorf("%w: llama-server exited before ready: %v; stderr tail: %s", ErrUnavailable, werr, stderr.String())
		case <-deadline.C:
			_ = s.Close()
			return nil, fmt.Errorf("%w: llama-server not ready within %s: %s", ErrUnavailable, a.cfg.ReadyTimeout, baseURL)
		case <-ctx.Done():
			_ = s.Close()
			return nil, ctx.Err()
		case <-tick.C:
		}
		if a.isHealthy(ctx, baseURL, time.Second) {
			log.Info().Msg("llama-server ready")
			return s, nil
		}
	}
}

// isHealthy checks that the server answers /health with a 2xx.
func (a *llamaServerAdapter) isHealthy(ctx context.Context, baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature"`
	TopP        float32  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	N           int      `json:"n,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int      `json:"seed,omitempty"`
	Stream      bool     `json:"stream"`
}

// completionChunk covers both completion (text) and chat (delta.content) chunks.
type completionChunk struct {
	Content string `json:"content"`
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *llamaServerSession) Generate(ctx context.Context, prompt string, p Params) (Result, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Result{}, ErrClosed
	}
	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.effectiveTemperature(),
		TopP:        p.TopP,
		TopK:        p.TopK,
		N:           p.NumSequences,
		Stop:        p.Stop,
		Seed:        p.Seed,
		Stream:      true,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("llama-server http error: %s: %s", resp.Status, string(b))
	}
	return readCompletionStream(ctx, resp.Body, s.a.log)
}

// readCompletionStream accumulates an SSE completion stream ("data: {...}" lines,
// terminated by "data: [DONE]" or EOF).
func readCompletionStream(ctx context.Context, body io.Reader, log zerolog.Logger) (Result, error) {
	r := bufio.NewReader(body)
	var res Result
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var chunk completionChunk
			if e := json.Unmarshal([]byte(data), &chunk); e != nil {
				log.Debug().Str("line", l).Msg("llama-server unknown stream line")
			} else {
				b.WriteString(chunk.Content)
				for _, c := range chunk.Choices[:min(1, len(chunk.Choices))] {
					b.WriteString(c.Text)
					b.WriteString(c.Delta.Content)
					if c.FinishReason != "" {
						res.FinishReason = c.FinishReason
					}
				}
				if chunk.Usage != nil {
					res.Usage = Usage{
						PromptTokens:     chunk.Usage.PromptTokens,
						CompletionTokens: chunk.Usage.CompletionTokens,
						TotalTokens:      chunk.Usage.TotalTokens,
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, err
		}
	}
	res.Text = b.String()
	return res, nil
}

// Close terminates the server: SIGTERM first, SIGKILL after two seconds.
func (s *llamaServerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-s.exited:
		return nil
	default:
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-s.exited
	}
	s.a.log.Info().Int("pid", cmd.Process.Pid).Msg("llama-server stopped")
	return nil
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
