// Package smoke is a minimal client for the KServe v2 inference endpoint and
// the post-deployment smoke test built on it.
package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llmserve/internal/modelconfig"
	"llmserve/internal/tensor"
	"llmserve/pkg/types"
)

// DefaultPrompt is the prompt the smoke test sends.
const DefaultPrompt = "Hello, can you explain what large language models are?"

// Client talks to one server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewClient accepts "host:port" or a full URL.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		BaseURL:    strings.TrimRight(addr, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
		Logger:     zerolog.Nop(),
	}
}

// HTTPError is a non-2xx reply from the server.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Infer sends rows as a 2-D TEXT tensor and returns the GENERATED_TEXT
// tensor reshaped to the reported shape.
func (c *Client) Infer(ctx context.Context, model string, rows [][]string) (tensor.Text, error) {
	in, err := tensor.FromRows(rows)
	if err != nil {
		return tensor.Text{}, err
	}
	shape := in.Shape()
	req := types.InferRequest{
		ID: uuid.New().String(),
		Inputs: []types.InferInputTensor{{
			Name:     modelconfig.InputName,
			Shape:    []int64{int64(shape.Rows), int64(shape.Cols)},
			Datatype: types.DatatypeBytes,
			Data:     in.Flatten(),
		}},
		Outputs: []types.InferRequestedOutput{{Name: modelconfig.OutputName}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return tensor.Text{}, err
	}
	u := c.BaseURL + "/v2/models/" + url.PathEscape(model) + "/infer"
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return tensor.Text{}, fmt.Errorf("creating request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := c.httpClient().Do(hreq)
	if err != nil {
		return tensor.Text{}, fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tensor.Text{}, decodeError(resp)
	}
	var out types.InferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tensor.Text{}, fmt.Errorf("decoding response: %w", err)
	}
	c.Logger.Debug().Str("model", model).Str("request_id", req.ID).Dur("dur", time.Since(start)).Msg("infer done")
	if out.ID != "" && out.ID != req.ID {
		return tensor.Text{}, fmt.Errorf("response id %q does not match request id %q", out.ID, req.ID)
	}
	for _, o := range out.Outputs {
		if o.Name != modelconfig.OutputName {
			continue
		}
		if len(o.Shape) != 2 {
			return tensor.Text{}, fmt.Errorf("output %s has %d dims, want 2", o.Name, len(o.Shape))
		}
		for _, d := range o.Shape {
			if int64(int(d)) != d {
				return tensor.Text{}, fmt.Errorf("%w: output %s dim %d overflows int", tensor.ErrShape, o.Name, d)
			}
		}
		return tensor.Reshape(o.Data, tensor.Shape{Rows: int(o.Shape[0]), Cols: int(o.Shape[1])})
	}
	return tensor.Text{}, fmt.Errorf("response has no %s output", modelconfig.OutputName)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er types.ErrorResponse
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	return &HTTPError{Status: resp.StatusCode, Message: msg}
}

// WaitReady polls /v2/health/ready until it returns 200 or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if interval <= 0 {
		interval = time.Second
	}
	u := c.BaseURL + "/v2/health/ready"
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		resp, err := c.httpClient().Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s to become ready", u)
		}
	}
}

// Run sends one (1,1) prompt and checks the reply is a (1,1) tensor holding
// one string. It returns the generated text.
func Run(ctx context.Context, c *Client, model, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	out, err := c.Infer(ctx, model, [][]string{{prompt}})
	if err != nil {
		return "", fmt.Errorf("smoke test: %w", err)
	}
	if got := out.Shape(); got != (tensor.Shape{Rows: 1, Cols: 1}) {
		return "", fmt.Errorf("smoke test: output shape %s, want (1,1)", got)
	}
	text := out.At(0, 0)
	c.Logger.Info().Str("model", model).Int("chars", len(text)).Msg("smoke test passed")
	return text, nil
}
