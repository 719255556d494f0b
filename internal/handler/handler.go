// Package handler implements the batch inference handler: it turns a batch of
// 2-D text tensors into a batch of 2-D generated-text tensors, one generation
// per input cell, preserving shape and order.
//
// A Handler is an explicit handle constructed once per model instance. It owns
// the loaded llm.Session and is passed to whoever dispatches batches (the
// batcher); there is no process-global model state.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmserve/internal/llm"
	"llmserve/internal/tensor"
)

// Generation holds the fixed sampling parameters applied to every prompt.
var Generation = llm.Params{
	MaxTokens:    256,
	DoSample:     true,
	TopK:         50,
	TopP:         0.9,
	Temperature:  0.7,
	NumSequences: 1,
}

var (
	// ErrBusy is returned when Execute is called while another call is running.
	ErrBusy = errors.New("handler: instance busy")
	// ErrShutdown is returned by Execute after Close.
	ErrShutdown = errors.New("handler: instance shut down")
)

// State is the lifecycle state of a Handler.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateBusy          State = "busy"
	StateShutdown      State = "shutdown"
)

// Request carries one 2-D tensor of prompts.
type Request struct {
	ID    string
	Input tensor.Text
}

// Response mirrors its Request's shape.
type Response struct {
	ID     string
	Output tensor.Text
}

// Handler is one initialized model instance.
type Handler struct {
	spec          llm.ModelSpec
	params        llm.Params
	promptTimeout time.Duration
	log           zerolog.Logger

	mu      sync.Mutex
	idle    *sync.Cond // signaled when a batch releases the handler
	state   State
	session llm.Session
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(l zerolog.Logger) Option { return func(h *Handler) { h.log = l } }

// WithPromptTimeout bounds each generation call. Zero means unbounded.
func WithPromptTimeout(d time.Duration) Option {
	return func(h *Handler) { h.promptTimeout = d }
}

// New loads the tokenizer and model described by spec through adapter and
// returns a Ready handler. A load failure returns no handler.
func New(ctx context.Context, adapter llm.Adapter, spec llm.ModelSpec, opts ...Option) (*Handler, error) {
	h := &Handler{spec: spec, params: Generation, log: zerolog.Nop(), state: StateUninitialized}
	h.idle = sync.NewCond(&h.mu)
	for _, o := range opts {
		o(h)
	}
	if adapter == nil {
		return nil, errors.New("handler: nil adapter")
	}
	start := time.Now()
	sess, err := adapter.Load(ctx, spec)
	if err != nil {
		h.log.Error().Err(err).Str("model", spec.Name).Int64("version", spec.Version).Msg("handler init failed")
		return nil, fmt.Errorf("initialize %s v%d: %w", spec.Name, spec.Version, err)
	}
	h.session = sess
	h.state = StateReady
	h.log.Info().Str("model", spec.Name).Int64("version", spec.Version).Dur("dur", time.Since(start)).Msg("handler ready")
	return h, nil
}

// Spec returns the model spec the handler was loaded from.
func (h *Handler) Spec() llm.ModelSpec { return h.spec }

// State reports the current lifecycle state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateReady:
		h.state = StateBusy
		return nil
	case StateBusy:
		return ErrBusy
	default:
		return ErrShutdown
	}
}

func (h *Handler) release() {
	h.mu.Lock()
	if h.state == StateBusy {
		h.state = StateReady
	}
	h.mu.Unlock()
	h.idle.Broadcast()
}

// Execute runs every request of the batch in order. Each request's tensor is
// flattened row-major, every cell is generated independently, and the results
// are reshaped to the request's shape. The first generation failure fails the
// whole call.
func (h *Handler) Execute(ctx context.Context, reqs []Request) ([]Response, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	start := time.Now()
	out := make([]Response, 0, len(reqs))
	prompts := 0
	for i, req := range reqs {
		gen, err := req.Input.Map(func(_ int, prompt string) (string, error) {
			return h.generate(ctx, prompt)
		})
		if err != nil {
			h.log.Error().Err(err).Str("request_id", req.ID).Int("request", i).Msg("generation failed")
			return nil, fmt.Errorf("request %d (%s): %w", i, req.ID, err)
		}
		prompts += req.Input.Len()
		out = append(out, Response{ID: req.ID, Output: gen})
	}
	h.log.Debug().Int("requests", len(reqs)).Int("prompts", prompts).Dur("dur", time.Since(start)).Msg("batch executed")
	return out, nil
}

func (h *Handler) generate(ctx context.Context, prompt string) (string, error) {
	if h.promptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.promptTimeout)
		defer cancel()
	}
	res, err := h.session.Generate(ctx, prompt, h.params)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Close releases the session. Calls after the first are no-ops. A batch that
// is running when Close is called finishes first.
func (h *Handler) Close() error {
	h.mu.Lock()
	for h.state == StateBusy {
		h.idle.Wait()
	}
	if h.state == StateShutdown {
		h.mu.Unlock()
		return nil
	}
	h.state = StateShutdown
	sess := h.session
	h.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := sess.Close()
	h.log.Info().Str("model", h.spec.Name).Int64("version", h.spec.Version).Msg("handler shut down")
	return err
}
