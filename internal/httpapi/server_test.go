package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmserve/internal/manager"
	"llmserve/pkg/types"
)

type mockService struct {
	ready      bool
	modelReady map[string]bool
	meta       map[string]types.ModelMetadata
	status     types.StatusResponse
	index      []types.RepositoryModel
	inferErr   error
	loadErr    error
	unloadErr  error

	gotModel, gotVersion string
	gotReq               types.InferRequest
	gotReadyOnly         bool
	loaded, unloaded     []string
}

func (m *mockService) Ready() bool { return m.ready }

func (m *mockService) ModelReady(model, version string) bool {
	return m.modelReady[model+"/"+version]
}

func (m *mockService) ServerMetadata() types.ServerMetadata {
	return types.ServerMetadata{Name: "llmserve", Version: "test", Extensions: []string{"model_repository"}}
}

func (m *mockService) ModelMetadata(model, version string) (types.ModelMetadata, error) {
	md, ok := m.meta[model]
	if !ok {
		return types.ModelMetadata{}, manager.ErrModelNotFound(model)
	}
	if version != "" {
		md.Versions = []string{version}
	}
	return md, nil
}

// Infer echoes every prompt back prefixed with "gen:".
func (m *mockService) Infer(ctx context.Context, model, version string, req types.InferRequest) (types.InferResponse, error) {
	m.gotModel, m.gotVersion, m.gotReq = model, version, req
	if m.inferErr != nil {
		return types.InferResponse{}, m.inferErr
	}
	in := req.Inputs[0]
	out := make(types.TextData, len(in.Data))
	for i, s := range in.Data {
		out[i] = "gen:" + s
	}
	return types.InferResponse{
		ModelName:    model,
		ModelVersion: "1",
		ID:           req.ID,
		Outputs:      []types.InferOutputTensor{{Name: "GENERATED_TEXT", Shape: in.Shape, Datatype: "BYTES", Data: out}},
	}, nil
}

func (m *mockService) RepositoryIndex(readyOnly bool) []types.RepositoryModel {
	m.gotReadyOnly = readyOnly
	return m.index
}

func (m *mockService) LoadModel(ctx context.Context, model string) error {
	m.loaded = append(m.loaded, model)
	return m.loadErr
}

func (m *mockService) Unload(model string) error {
	m.unloaded = append(m.unloaded, model)
	return m.unloadErr
}

func (m *mockService) Status() types.StatusResponse { return m.status }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rdr *bytes.Buffer
	if body != "" {
		rdr = bytes.NewBufferString(body)
	} else {
		rdr = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const inferBody = `{"id":"r1","inputs":[{"name":"TEXT","shape":[2,2],"datatype":"BYTES","data":[["a","b"],["c","d"]]}]}`

func TestServerMetadata(t *testing.T) {
	rec := do(NewMux(&mockService{}), http.MethodGet, "/v2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var md types.ServerMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &md); err != nil {
		t.Fatalf("json: %v", err)
	}
	if md.Name != "llmserve" {
		t.Fatalf("unexpected body: %+v", md)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := NewMux(&mockService{ready: false})
	if rec := do(h, http.MethodGet, "/v2/health/live", ""); rec.Code != http.StatusOK {
		t.Fatalf("live status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz status=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/v2/health/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status=%d", rec.Code)
	}
	rec := do(h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "loading") {
		t.Fatalf("readyz status=%d body=%q", rec.Code, rec.Body.String())
	}

	h = NewMux(&mockService{ready: true})
	if rec := do(h, http.MethodGet, "/v2/health/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rec.Code)
	}
}

func TestModelMetadataAndReady(t *testing.T) {
	svc := &mockService{
		meta:       map[string]types.ModelMetadata{"m": {Name: "m", Platform: "llama_server", Versions: []string{"1", "2"}}},
		modelReady: map[string]bool{"m/": true, "m/2": true},
	}
	h := NewMux(svc)

	rec := do(h, http.MethodGet, "/v2/models/m", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var md types.ModelMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &md); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(md.Versions) != 2 {
		t.Fatalf("unexpected metadata: %+v", md)
	}
	rec = do(h, http.MethodGet, "/v2/models/m/versions/2", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &md); err != nil || len(md.Versions) != 1 || md.Versions[0] != "2" {
		t.Fatalf("version metadata %+v err=%v", md, err)
	}
	if rec := do(h, http.MethodGet, "/v2/models/x", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing model status=%d", rec.Code)
	}

	if rec := do(h, http.MethodGet, "/v2/models/m/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("model ready status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v2/models/m/versions/2/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("version ready status=%d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/v2/models/m/versions/1/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("version 1 ready status=%d", rec.Code)
	}
}

func TestInfer(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	rec := do(h, http.MethodPost, "/v2/models/llama3/infer", inferBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	if svc.gotModel != "llama3" || svc.gotVersion != "" {
		t.Fatalf("routed to %q/%q", svc.gotModel, svc.gotVersion)
	}
	if got := svc.gotReq.Inputs[0].Data; len(got) != 4 || got[2] != "c" {
		t.Fatalf("nested data not flattened row-major: %v", got)
	}
	var resp types.InferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.ID != "r1" || resp.Outputs[0].Data[3] != "gen:d" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = do(h, http.MethodPost, "/v2/models/llama3/versions/7/infer", inferBody)
	if rec.Code != http.StatusOK || svc.gotVersion != "7" {
		t.Fatalf("versioned infer status=%d version=%q", rec.Code, svc.gotVersion)
	}
}

func TestInferRequestErrors(t *testing.T) {
	h := NewMux(&mockService{})

	req := httptest.NewRequest(http.MethodPost, "/v2/models/m/infer", bytes.NewBufferString(inferBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("missing content-type status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v2/models/m/infer", bytes.NewBufferString(inferBody))
	req.Header.Set("Content-Type", "Application/JSON; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("mixed-case content-type status=%d", rec.Code)
	}

	if rec := do(h, http.MethodPost, "/v2/models/m/infer", `{"inputs":[`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/v2/models/m/infer", `{"inputs":[{"name":"TEXT","shape":[1,1],"datatype":"BYTES","data":[1]}]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-string data status=%d", rec.Code)
	}
	svc := &mockService{}
	rec = do(NewMux(svc), http.MethodPost, "/v2/models/m/infer", "{\"inputs\":[{\"name\":\"TEXT\",\"shape\":[1,1],\"datatype\":\"BYTES\",\"data\":[\"a\xffb\"]}]}")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "UTF-8") {
		t.Fatalf("invalid utf-8 status=%d body=%s", rec.Code, rec.Body.String())
	}
	if svc.gotModel != "" {
		t.Fatalf("invalid utf-8 request reached the service")
	}

	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	if rec := do(h, http.MethodPost, "/v2/models/m/infer", inferBody); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body status=%d", rec.Code)
	}
}

func TestInferErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", manager.ErrModelNotFound("m"), http.StatusNotFound},
		{"invalid", manager.ErrInvalidInput("bad shape"), http.StatusBadRequest},
		{"dependency", manager.ErrDependencyUnavailable("llama-server not found"), http.StatusServiceUnavailable},
		{"custom", mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(NewMux(&mockService{inferErr: tc.err}), http.MethodPost, "/v2/models/m/infer", inferBody)
			if rec.Code != tc.want {
				t.Fatalf("status=%d want %d", rec.Code, tc.want)
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != tc.want || body.Error != tc.err.Error() {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestRepositoryEndpoints(t *testing.T) {
	svc := &mockService{index: []types.RepositoryModel{{Name: "m", Version: "1", State: "READY"}}}
	h := NewMux(svc)

	rec := do(h, http.MethodPost, "/v2/repository/index", "")
	if rec.Code != http.StatusOK || svc.gotReadyOnly {
		t.Fatalf("index status=%d readyOnly=%v", rec.Code, svc.gotReadyOnly)
	}
	var idx []types.RepositoryModel
	if err := json.Unmarshal(rec.Body.Bytes(), &idx); err != nil || len(idx) != 1 {
		t.Fatalf("index body %s err=%v", rec.Body.String(), err)
	}
	if rec := do(h, http.MethodPost, "/v2/repository/index", `{"ready":true}`); rec.Code != http.StatusOK || !svc.gotReadyOnly {
		t.Fatalf("ready filter not passed")
	}
	if rec := do(h, http.MethodPost, "/v2/repository/index", `{"ready":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad index body status=%d", rec.Code)
	}

	if rec := do(h, http.MethodPost, "/v2/repository/models/m/load", ""); rec.Code != http.StatusOK {
		t.Fatalf("load status=%d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/v2/repository/models/m/unload", ""); rec.Code != http.StatusOK {
		t.Fatalf("unload status=%d", rec.Code)
	}
	if len(svc.loaded) != 1 || len(svc.unloaded) != 1 {
		t.Fatalf("loaded=%v unloaded=%v", svc.loaded, svc.unloaded)
	}

	svc.unloadErr = manager.ErrModelNotFound("x")
	if rec := do(h, http.MethodPost, "/v2/repository/models/x/unload", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unload missing status=%d", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{State: "ready", InferTotal: 3}}
	rec := do(NewMux(svc), http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.InferTotal != 3 || body.State != "ready" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
