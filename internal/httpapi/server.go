// Package httpapi serves the KServe v2 inference protocol over HTTP plus the
// operational endpoints (/status, /healthz, /readyz).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"llmserve/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	ModelReady(model, version string) bool
	ServerMetadata() types.ServerMetadata
	ModelMetadata(model, version string) (types.ModelMetadata, error)
	Infer(ctx context.Context, model, version string, req types.InferRequest) (types.InferResponse, error)
	RepositoryIndex(readyOnly bool) []types.RepositoryModel
	LoadModel(ctx context.Context, model string) error
	Unload(model string) error
	Status() types.StatusResponse
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}

	r.Get("/v2", h.serverMetadata)
	r.Get("/v2/health/live", h.live)
	r.Get("/v2/health/ready", h.ready)
	r.Route("/v2/models/{model}", func(r chi.Router) {
		r.Get("/", h.modelMetadata)
		r.Get("/ready", h.modelReady)
		r.Post("/infer", h.infer)
		r.Route("/versions/{version}", func(r chi.Router) {
			r.Get("/", h.modelMetadata)
			r.Get("/ready", h.modelReady)
			r.Post("/infer", h.infer)
		})
	})
	r.Post("/v2/repository/index", h.repositoryIndex)
	r.Post("/v2/repository/models/{model}/load", h.loadModel)
	r.Post("/v2/repository/models/{model}/unload", h.unloadModel)

	r.Get("/status", h.status)

	r.Get("/healthz", h.live)

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	MountSwagger(r)

	return r
}

type handlers struct {
	svc Service
}

// serverMetadata godoc
// @Summary      Server metadata
// @Tags         v2
// @Produce      json
// @Success      200  {object}  types.ServerMetadata
// @Router       /v2 [get]
func (h *handlers) serverMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.ServerMetadata())
}

// status godoc
// @Summary      Detailed server status
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Status())
}

// live godoc
// @Summary      Liveness probe
// @Tags         health
// @Success      200
// @Router       /v2/health/live [get]
func (h *handlers) live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ready godoc
// @Summary      Readiness probe
// @Description  200 once every model in the repository has a ready version.
// @Tags         health
// @Success      200
// @Failure      503
// @Router       /v2/health/ready [get]
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// modelMetadata godoc
// @Summary      Model metadata
// @Tags         v2
// @Produce      json
// @Param        model  path  string  true  "Model name"
// @Success      200  {object}  types.ModelMetadata
// @Failure      404  {object}  types.ErrorResponse
// @Router       /v2/models/{model} [get]
func (h *handlers) modelMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.svc.ModelMetadata(chi.URLParam(r, "model"), chi.URLParam(r, "version"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, md)
}

// modelReady godoc
// @Summary      Model readiness
// @Tags         v2
// @Param        model  path  string  true  "Model name"
// @Success      200
// @Failure      503
// @Router       /v2/models/{model}/ready [get]
func (h *handlers) modelReady(w http.ResponseWriter, r *http.Request) {
	if h.svc.ModelReady(chi.URLParam(r, "model"), chi.URLParam(r, "version")) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

// infer godoc
// @Summary      Generate text for a batch of prompts
// @Description  Takes one 2-D BYTES tensor named TEXT and returns GENERATED_TEXT with the same shape.
// @Tags         v2
// @Accept       json
// @Produce      json
// @Param        model  path  string              true  "Model name"
// @Param        body   body  types.InferRequest  true  "Inference request"
// @Success      200  {object}  types.InferResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      415  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /v2/models/{model}/infer [post]
func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	// Content-Type check
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.InferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	model, version := chi.URLParam(r, "model"), chi.URLParam(r, "version")
	lvl := requestLogLevel(r)
	if ev := requestEvent(r, lvl, LevelInfo); ev != nil {
		ev.Str("model", model).Str("version", version).Msg("infer start")
	}
	start := time.Now()

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if inferTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
		defer tcancel()
	}

	resp, err := h.svc.Infer(ctx, model, version, req)
	if err != nil {
		// If the client went away or the server is shutting down, nobody reads the reply.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := writeServiceError(w, err)
		logInferEnd(r, lvl, status, start, err)
		return
	}
	writeJSON(w, resp)
	logInferEnd(r, lvl, http.StatusOK, start, nil)
}

// repositoryIndex godoc
// @Summary      Repository index
// @Tags         repository
// @Accept       json
// @Produce      json
// @Param        body  body  types.RepositoryIndexRequest  false  "Filter"
// @Success      200  {array}  types.RepositoryModel
// @Router       /v2/repository/index [post]
func (h *handlers) repositoryIndex(w http.ResponseWriter, r *http.Request) {
	var req types.RepositoryIndexRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, h.svc.RepositoryIndex(req.Ready))
}

// loadModel godoc
// @Summary      Load or reload a model
// @Tags         repository
// @Param        model  path  string  true  "Model name"
// @Success      200
// @Failure      404  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Router       /v2/repository/models/{model}/load [post]
func (h *handlers) loadModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := h.svc.LoadModel(ctx, chi.URLParam(r, "model")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// unloadModel godoc
// @Summary      Unload a model
// @Tags         repository
// @Param        model  path  string  true  "Model name"
// @Success      200
// @Failure      404  {object}  types.ErrorResponse
// @Router       /v2/repository/models/{model}/unload [post]
func (h *handlers) unloadModel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unload(chi.URLParam(r, "model")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
