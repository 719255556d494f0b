package manager

import (
	"errors"
	"fmt"
	"testing"

	"llmserve/internal/batcher"
	"llmserve/internal/handler"
	"llmserve/internal/llm"
)

func TestErrorHelpersSeeThroughWrapping(t *testing.T) {
	if !IsModelNotFound(fmt.Errorf("ctx: %w", ErrModelNotFound("x"))) {
		t.Fatalf("expected IsModelNotFound through wrap")
	}
	if !IsDependencyUnavailable(fmt.Errorf("ctx: %w", ErrDependencyUnavailable("llama-server not found"))) {
		t.Fatalf("expected IsDependencyUnavailable through wrap")
	}
	if !IsInvalidInput(errors.Join(errBoom, ErrInvalidInput("bad"))) {
		t.Fatalf("expected IsInvalidInput through join")
	}
	if IsTooBusy(errBoom) || IsNotReady(errBoom) {
		t.Fatalf("plain error classified")
	}
}

func TestMapSubmitErr(t *testing.T) {
	m := New(Config{})
	cases := []struct {
		in    error
		check func(error) bool
	}{
		{batcher.ErrQueueFull, IsTooBusy},
		{fmt.Errorf("%w: 9 rows > 8", batcher.ErrBatchTooLarge), IsInvalidInput},
		{batcher.ErrClosed, IsNotReady},
		{fmt.Errorf("request 0 (x): %w", handler.ErrShutdown), IsNotReady},
		{fmt.Errorf("generate: %w", llm.ErrUnavailable), IsDependencyUnavailable},
	}
	for _, tc := range cases {
		if got := m.mapSubmitErr("m", 1, tc.in); !tc.check(got) {
			t.Fatalf("%v mapped to %v (%T)", tc.in, got, got)
		}
	}
	if got := m.mapSubmitErr("m", 1, errBoom); !errors.Is(got, errBoom) {
		t.Fatalf("unclassified error should pass through, got %v", got)
	}
	var de dependencyUnavailableError
	if got := m.mapSubmitErr("m", 1, fmt.Errorf("x: %w", llm.ErrUnavailable)); !errors.As(got, &de) || !errors.Is(got, llm.ErrUnavailable) {
		t.Fatalf("dependency error should unwrap to llm.ErrUnavailable")
	}
}
