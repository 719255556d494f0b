package manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"llmserve/internal/batcher"
	"llmserve/internal/handler"
	"llmserve/internal/modelconfig"
	"llmserve/internal/tensor"
	"llmserve/pkg/types"
)

// Infer validates a v2 request, runs it through the batcher of the requested
// version (latest ready when ver is empty) and returns the GENERATED_TEXT
// tensor with the input's shape.
func (m *Manager) Infer(ctx context.Context, name, ver string, req types.InferRequest) (types.InferResponse, error) {
	m.mu.RLock()
	mdl, v, err := m.lookupLocked(name, ver)
	if err == nil && v.state != StateReady {
		err = notReadyError{id: name + " v" + strconv.FormatInt(v.number, 10), reason: string(v.state)}
	}
	m.mu.RUnlock()
	if err != nil {
		return types.InferResponse{}, err
	}

	input, err := decodeInput(req)
	if err != nil {
		return types.InferResponse{}, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	start := time.Now()
	v.touch(start)
	resp, err := v.batcher.Submit(ctx, handler.Request{ID: id, Input: input})
	if err != nil {
		m.inferFailures.Add(1)
		err = m.mapSubmitErr(mdl.name, v.number, err)
		m.log.Warn().Err(err).Str("model", mdl.name).Int64("version", v.number).Str("request_id", id).Msg("infer failed")
		m.publish(Event{Name: EventInferFailed, Model: mdl.name, Version: v.number, Fields: map[string]any{"error": err.Error()}})
		return types.InferResponse{}, err
	}
	m.inferTotal.Add(1)
	m.log.Debug().Str("model", mdl.name).Int64("version", v.number).Str("request_id", id).
		Str("shape", input.Shape().String()).Dur("dur", time.Since(start)).Msg("infer done")

	shape := resp.Output.Shape()
	return types.InferResponse{
		ModelName:    mdl.name,
		ModelVersion: strconv.FormatInt(v.number, 10),
		ID:           req.ID,
		Outputs: []types.InferOutputTensor{{
			Name:     modelconfig.OutputName,
			Shape:    []int64{int64(shape.Rows), int64(shape.Cols)},
			Datatype: types.DatatypeBytes,
			Data:     resp.Output.Flatten(),
		}},
	}, nil
}

// maxDim bounds each input dimension before conversion to int.
const maxDim = math.MaxInt32

// decodeInput checks the request carries exactly one 2-D BYTES tensor named
// TEXT whose data matches its shape, and asks for no output but
// GENERATED_TEXT.
func decodeInput(req types.InferRequest) (tensor.Text, error) {
	if len(req.Inputs) != 1 {
		return tensor.Text{}, ErrInvalidInput(fmt.Sprintf("expected 1 input, got %d", len(req.Inputs)))
	}
	in := req.Inputs[0]
	if in.Name != modelconfig.InputName {
		return tensor.Text{}, ErrInvalidInput(fmt.Sprintf("unexpected input %q, want %s", in.Name, modelconfig.InputName))
	}
	if in.Datatype != types.DatatypeBytes {
		return tensor.Text{}, ErrInvalidInput(fmt.Sprintf("input %s has datatype %q, want %s", in.Name, in.Datatype, types.DatatypeBytes))
	}
	if len(in.Shape) != 2 {
		return tensor.Text{}, ErrInvalidInput(fmt.Sprintf("input %s has %d dims, want 2", in.Name, len(in.Shape)))
	}
	for _, o := range req.Outputs {
		if o.Name != modelconfig.OutputName {
			return tensor.Text{}, ErrInvalidInput(fmt.Sprintf("unknown output %q", o.Name))
		}
	}
	for i, d := range in.Shape {
		if d < 0 || d > maxDim {
			return tensor.Text{}, ErrInvalidInput(fmt.Sprintf("input %s dim %d is %d, want 0..%d", in.Name, i, d, maxDim))
		}
	}
	t, err := tensor.New(tensor.Shape{Rows: int(in.Shape[0]), Cols: int(in.Shape[1])}, in.Data)
	if err != nil {
		return tensor.Text{}, invalidInputError{msg: err.Error(), err: err}
	}
	return t, nil
}

func (m *Manager) mapSubmitErr(name string, ver int64, err error) error {
	id := name + " v" + strconv.FormatInt(ver, 10)
	switch {
	case errors.Is(err, batcher.ErrQueueFull):
		return tooBusyError{model: id}
	case errors.Is(err, batcher.ErrBatchTooLarge):
		return invalidInputError{msg: err.Error(), err: err}
	case errors.Is(err, batcher.ErrClosed), errors.Is(err, handler.ErrShutdown):
		return notReadyError{id: id, reason: "unloading"}
	}
	return wrapBackendErr(err)
}

// lookupLocked resolves a model and version. Callers hold m.mu.
func (m *Manager) lookupLocked(name, ver string) (*model, *version, error) {
	if m.closed {
		return nil, nil, notReadyError{id: name, reason: "server shutting down"}
	}
	mdl, ok := m.models[name]
	if !ok {
		return nil, nil, ErrModelNotFound(name)
	}
	if ver == "" {
		if mdl.state != StateReady {
			return mdl, nil, notReadyError{id: name, reason: mdl.reason()}
		}
		v := mdl.latest()
		if v == nil {
			return mdl, nil, notReadyError{id: name, reason: "no ready version"}
		}
		return mdl, v, nil
	}
	n, err := strconv.ParseInt(ver, 10, 64)
	if err != nil || n < 1 {
		return mdl, nil, ErrInvalidInput(fmt.Sprintf("bad model version %q", ver))
	}
	v, ok := mdl.versions[n]
	if !ok {
		return mdl, nil, ErrModelNotFound(name + " version " + ver)
	}
	return mdl, v, nil
}

// latest returns the highest ready version, or nil.
func (mdl *model) latest() *version {
	var best *version
	for _, v := range mdl.versions {
		if v.state == StateReady && (best == nil || v.number > best.number) {
			best = v
		}
	}
	return best
}

func (mdl *model) reason() string {
	if mdl.err != "" {
		return mdl.err
	}
	return string(mdl.state)
}
