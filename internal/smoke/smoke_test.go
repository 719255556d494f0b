package smoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmserve/internal/tensor"
	"llmserve/pkg/types"
)

// echoServer answers infer requests with "gen:<prompt>" per cell.
func echoServer(t *testing.T) (*httptest.Server, *types.InferRequest) {
	t.Helper()
	var got types.InferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/models/llama3/infer" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "model not found: x"})
			return
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&got)) {
			return
		}
		in := got.Inputs[0]
		out := make(types.TextData, len(in.Data))
		for i, s := range in.Data {
			out[i] = "gen:" + s
		}
		_ = json.NewEncoder(w).Encode(types.InferResponse{
			ModelName: "llama3",
			ID:        got.ID,
			Outputs:   []types.InferOutputTensor{{Name: "GENERATED_TEXT", Shape: in.Shape, Datatype: "BYTES", Data: out}},
		})
	}))
	return srv, &got
}

func TestInferRoundTrip(t *testing.T) {
	srv, got := echoServer(t)
	defer srv.Close()
	c := NewClient(srv.URL)

	out, err := c.Infer(context.Background(), "llama3", [][]string{{"a", "b"}, {"c", "d"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"gen:a", "gen:b"}, {"gen:c", "gen:d"}}, out.Rows())

	assert.NotEmpty(t, got.ID)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "TEXT", got.Inputs[0].Name)
	assert.Equal(t, "BYTES", got.Inputs[0].Datatype)
	assert.Equal(t, []int64{2, 2}, got.Inputs[0].Shape)
	assert.Equal(t, "GENERATED_TEXT", got.Outputs[0].Name)
}

func TestRun(t *testing.T) {
	srv, got := echoServer(t)
	defer srv.Close()
	text, err := Run(context.Background(), NewClient(srv.URL), "llama3", "")
	require.NoError(t, err)
	assert.Equal(t, "gen:"+DefaultPrompt, text)
	assert.Equal(t, []int64{1, 1}, got.Inputs[0].Shape)
}

func TestRunRejectsWrongShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.InferResponse{
			Outputs: []types.InferOutputTensor{{Name: "GENERATED_TEXT", Shape: []int64{1, 2}, Datatype: "BYTES", Data: types.TextData{"x", "y"}}},
		})
	}))
	defer srv.Close()
	_, err := Run(context.Background(), NewClient(srv.URL), "m", "hi")
	require.ErrorContains(t, err, "want (1,1)")
}

func TestInferHTTPError(t *testing.T) {
	srv, _ := echoServer(t)
	defer srv.Close()
	_, err := NewClient(srv.URL).Infer(context.Background(), "other", [][]string{{"p"}})
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.Equal(t, "model not found: x", he.Message)
}

func TestInferMissingOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.InferResponse{})
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL).Infer(context.Background(), "m", [][]string{{"p"}})
	require.ErrorContains(t, err, "no GENERATED_TEXT output")
}

func TestInferRejectsOverflowingOutputShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.InferResponse{
			Outputs: []types.InferOutputTensor{{Name: "GENERATED_TEXT", Shape: []int64{4, 1 << 62}, Datatype: "BYTES", Data: types.TextData{}}},
		})
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL).Infer(context.Background(), "m", [][]string{{"p"}})
	require.ErrorIs(t, err, tensor.ErrShape)
}

func TestWaitReady(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	require.NoError(t, NewClient(srv.URL).WaitReady(context.Background(), 2*time.Second, 5*time.Millisecond))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestWaitReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	err := NewClient(srv.URL).WaitReady(context.Background(), 30*time.Millisecond, 5*time.Millisecond)
	require.ErrorContains(t, err, "timed out")
}

func TestNewClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", NewClient("localhost:8000").BaseURL)
	assert.Equal(t, "https://x", NewClient("https://x/").BaseURL)
}
