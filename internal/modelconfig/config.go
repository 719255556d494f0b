// Package modelconfig is the declarative per-model serving configuration:
// backend kind, batch limits, the single text input and output, instance
// group, dynamic batching and version policy.
package modelconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llmserve/internal/llm"
)

const (
	// InputName is the only input tensor a text-generation model accepts.
	InputName = "TEXT"
	// OutputName is the only output tensor it produces.
	OutputName = "GENERATED_TEXT"
	// TypeString is the element type of both tensors.
	TypeString = "TYPE_STRING"
)

// InstanceKind is the compute binding of an instance group.
type InstanceKind string

const (
	KindGPU InstanceKind = "KIND_GPU"
	KindCPU InstanceKind = "KIND_CPU"
)

// TensorConfig describes one input or output. A dim of -1 is variable.
type TensorConfig struct {
	Name     string  `json:"name" yaml:"name" toml:"name"`
	DataType string  `json:"data_type" yaml:"data_type" toml:"data_type"`
	Dims     []int64 `json:"dims" yaml:"dims" toml:"dims"`
}

// InstanceGroup sets how many handler instances serve the model.
type InstanceGroup struct {
	Count int          `json:"count" yaml:"count" toml:"count"`
	Kind  InstanceKind `json:"kind" yaml:"kind" toml:"kind"`
}

// DynamicBatching controls batch formation.
type DynamicBatching struct {
	PreferredBatchSize        []int `json:"preferred_batch_size,omitempty" yaml:"preferred_batch_size,omitempty" toml:"preferred_batch_size,omitempty"`
	MaxQueueDelayMicroseconds int64 `json:"max_queue_delay_microseconds" yaml:"max_queue_delay_microseconds" toml:"max_queue_delay_microseconds"`
	// MaxQueueSize bounds queued requests; zero means the batcher default.
	MaxQueueSize int `json:"max_queue_size,omitempty" yaml:"max_queue_size,omitempty" toml:"max_queue_size,omitempty"`
}

// MaxQueueDelay converts the microsecond setting.
func (d DynamicBatching) MaxQueueDelay() time.Duration {
	return time.Duration(d.MaxQueueDelayMicroseconds) * time.Microsecond
}

// LatestPolicy serves the newest NumVersions versions.
type LatestPolicy struct {
	NumVersions int `json:"num_versions" yaml:"num_versions" toml:"num_versions"`
}

// SpecificPolicy serves exactly the listed versions.
type SpecificPolicy struct {
	Versions []int64 `json:"versions" yaml:"versions" toml:"versions"`
}

// AllPolicy serves every version on disk.
type AllPolicy struct{}

// VersionPolicy selects which on-disk versions are served. Exactly one field
// is set; an empty policy means latest 1.
type VersionPolicy struct {
	Latest   *LatestPolicy   `json:"latest,omitempty" yaml:"latest,omitempty" toml:"latest,omitempty"`
	Specific *SpecificPolicy `json:"specific,omitempty" yaml:"specific,omitempty" toml:"specific,omitempty"`
	All      *AllPolicy      `json:"all,omitempty" yaml:"all,omitempty" toml:"all,omitempty"`
}

// ModelConfig is the full per-model record.
type ModelConfig struct {
	Name            string           `json:"name" yaml:"name" toml:"name"`
	Backend         string           `json:"backend" yaml:"backend" toml:"backend"`
	MaxBatchSize    int              `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	Input           []TensorConfig   `json:"input" yaml:"input" toml:"input"`
	Output          []TensorConfig   `json:"output" yaml:"output" toml:"output"`
	InstanceGroup   []InstanceGroup  `json:"instance_group" yaml:"instance_group" toml:"instance_group"`
	DynamicBatching *DynamicBatching `json:"dynamic_batching,omitempty" yaml:"dynamic_batching,omitempty" toml:"dynamic_batching,omitempty"`
	VersionPolicy   VersionPolicy    `json:"version_policy" yaml:"version_policy" toml:"version_policy"`
}

// Default returns the configuration the prepare pipeline writes for a new
// model: one GPU instance, batches of up to 8 rows preferring 4 or 8, a
// 100µs queue delay and the latest version only.
func Default(name, backend string) ModelConfig {
	return ModelConfig{
		Name:          name,
		Backend:       backend,
		MaxBatchSize:  8,
		Input:         []TensorConfig{{Name: InputName, DataType: TypeString, Dims: []int64{-1}}},
		Output:        []TensorConfig{{Name: OutputName, DataType: TypeString, Dims: []int64{-1}}},
		InstanceGroup: []InstanceGroup{{Count: 1, Kind: KindGPU}},
		DynamicBatching: &DynamicBatching{
			PreferredBatchSize:        []int{4, 8},
			MaxQueueDelayMicroseconds: 100,
		},
		VersionPolicy: VersionPolicy{Latest: &LatestPolicy{NumVersions: 1}},
	}
}

// Instances is the total instance count across groups, at least one.
func (c ModelConfig) Instances() int {
	n := 0
	for _, g := range c.InstanceGroup {
		n += g.Count
	}
	if n < 1 {
		return 1
	}
	return n
}

// Validate checks the record against what the handler can serve.
func (c ModelConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch c.Backend {
	case llm.KindLlama, llm.KindLlamaServer, llm.KindOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("max_batch_size %d is negative", c.MaxBatchSize))
	}
	errs = append(errs, checkTensor("input", c.Input, InputName)...)
	errs = append(errs, checkTensor("output", c.Output, OutputName)...)
	for i, g := range c.InstanceGroup {
		if g.Count < 1 {
			errs = append(errs, fmt.Errorf("instance_group[%d].count must be at least 1", i))
		}
		if g.Kind != KindGPU && g.Kind != KindCPU {
			errs = append(errs, fmt.Errorf("instance_group[%d].kind %q is not KIND_GPU or KIND_CPU", i, g.Kind))
		}
	}
	if db := c.DynamicBatching; db != nil {
		for _, p := range db.PreferredBatchSize {
			if p < 1 || (c.MaxBatchSize > 0 && p > c.MaxBatchSize) {
				errs = append(errs, fmt.Errorf("preferred_batch_size %d outside 1..%d", p, c.MaxBatchSize))
			}
		}
		if db.MaxQueueDelayMicroseconds < 0 {
			errs = append(errs, errors.New("max_queue_delay_microseconds is negative"))
		}
	}
	errs = append(errs, c.VersionPolicy.validate()...)
	if len(errs) > 0 {
		return fmt.Errorf("model config %q: %w", c.Name, errors.Join(errs...))
	}
	return nil
}

func checkTensor(kind string, ts []TensorConfig, name string) []error {
	if len(ts) != 1 {
		return []error{fmt.Errorf("exactly one %s is required, got %d", kind, len(ts))}
	}
	var errs []error
	t := ts[0]
	if t.Name != name {
		errs = append(errs, fmt.Errorf("%s name %q, want %q", kind, t.Name, name))
	}
	if t.DataType != TypeString {
		errs = append(errs, fmt.Errorf("%s %s data_type %q, want %s", kind, t.Name, t.DataType, TypeString))
	}
	if len(t.Dims) != 1 || t.Dims[0] != -1 {
		errs = append(errs, fmt.Errorf("%s %s dims %v, want [-1]", kind, t.Name, t.Dims))
	}
	return errs
}

func (p VersionPolicy) validate() []error {
	set := 0
	var errs []error
	if p.Latest != nil {
		set++
		if p.Latest.NumVersions < 1 {
			errs = append(errs, errors.New("version_policy.latest.num_versions must be at least 1"))
		}
	}
	if p.Specific != nil {
		set++
		if len(p.Specific.Versions) == 0 {
			errs = append(errs, errors.New("version_policy.specific.versions is empty"))
		}
		for _, v := range p.Specific.Versions {
			if v < 1 {
				errs = append(errs, fmt.Errorf("version_policy.specific version %d must be positive", v))
			}
		}
	}
	if p.All != nil {
		set++
	}
	if set > 1 {
		errs = append(errs, errors.New("version_policy sets more than one of latest, specific, all"))
	}
	return errs
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (ModelConfig, error) {
	var cfg ModelConfig
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes cfg by the extension of path.
func Write(path string, cfg ModelConfig) error {
	var (
		b   []byte
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	case ".json":
		b, err = json.MarshalIndent(cfg, "", "  ")
		b = append(b, '\n')
	case ".toml":
		b, err = toml.Marshal(cfg)
	case ".pbtxt":
		var s string
		s, err = RenderPBTXT(cfg)
		b = []byte(s)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, b, 0o644)
}
