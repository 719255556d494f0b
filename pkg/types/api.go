package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code,omitempty" example:"400"`
}

// ServerMetadata is returned by GET /v2.
type ServerMetadata struct {
	// example: llmserve
	Name string `json:"name" example:"llmserve"`
	// example: 0.1.0
	Version string `json:"version" example:"0.1.0"`
	// Supported protocol extensions.
	Extensions []string `json:"extensions"`
}

// TensorMetadata describes a model input or output.
type TensorMetadata struct {
	// example: TEXT
	Name string `json:"name" example:"TEXT"`
	// example: BYTES
	Datatype string `json:"datatype" example:"BYTES"`
	// Shape with -1 for variable dimensions.
	// example: [-1,-1]
	Shape []int64 `json:"shape" swaggertype:"array,integer" example:"-1,-1"`
}

// ModelMetadata is returned by GET /v2/models/{model}.
type ModelMetadata struct {
	// example: meta-llama_Meta-Llama-3-8B
	Name string `json:"name" example:"meta-llama_Meta-Llama-3-8B"`
	// Served versions, ascending.
	Versions []string `json:"versions,omitempty"`
	// Backend kind.
	// example: llama_server
	Platform string           `json:"platform" example:"llama_server"`
	Inputs   []TensorMetadata `json:"inputs"`
	Outputs  []TensorMetadata `json:"outputs"`
}

// RepositoryIndexRequest is the body of POST /v2/repository/index.
type RepositoryIndexRequest struct {
	// Only list ready models.
	Ready bool `json:"ready,omitempty"`
}

// RepositoryModel is one entry of the repository index.
type RepositoryModel struct {
	// example: meta-llama_Meta-Llama-3-8B
	Name string `json:"name" example:"meta-llama_Meta-Llama-3-8B"`
	// example: 1
	Version string `json:"version,omitempty" example:"1"`
	// example: READY
	State string `json:"state,omitempty" example:"READY"`
	// Reason for a non-ready state.
	Reason string `json:"reason,omitempty"`
}

// InstanceStatus summarizes one handler instance for /status.
type InstanceStatus struct {
	// example: 0
	Index int `json:"index" example:"0"`
	// Handler lifecycle state (uninitialized, ready, busy, shutdown).
	// example: ready
	State string `json:"state" example:"ready"`
}

// ModelStatus summarizes one served model version for /status.
type ModelStatus struct {
	// example: meta-llama_Meta-Llama-3-8B
	Name string `json:"name" example:"meta-llama_Meta-Llama-3-8B"`
	// example: 1
	Version int64 `json:"version" example:"1"`
	// example: llama_server
	Backend string `json:"backend" example:"llama_server"`
	// Model state (loading, ready, error, unloaded).
	// example: ready
	State string `json:"state" example:"ready"`
	// Load error, if any.
	Error string `json:"error,omitempty"`
	// Requests waiting in the batcher queue.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// example: 8
	MaxBatchSize int              `json:"max_batch_size" example:"8"`
	Instances    []InstanceStatus `json:"instances"`
	// Last time this version served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Models []ModelStatus `json:"models"`
	// Overall server state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total completed inference requests.
	// example: 12
	InferTotal uint64 `json:"infer_total" example:"12"`
	// Total failed inference requests.
	// example: 0
	InferFailures uint64 `json:"infer_failures" example:"0"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
}
