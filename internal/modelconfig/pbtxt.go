package modelconfig

import (
	"strconv"
	"strings"
	"text/template"
)

// RenderPBTXT renders cfg in Triton's protobuf text format so the same model
// directory can be served by tritonserver.
func RenderPBTXT(cfg ModelConfig) (string, error) {
	var b strings.Builder
	if err := pbtxtTmpl.Execute(&b, cfg); err != nil {
		return "", err
	}
	return b.String(), nil
}

var pbtxtTmpl = template.Must(template.New("config.pbtxt").Funcs(template.FuncMap{
	"ints":   joinInts,
	"ints64": joinInts64,
}).Parse(`name: "{{.Name}}"
backend: "{{.Backend}}"
max_batch_size: {{.MaxBatchSize}}
{{- range .Input}}
input [
  {
    name: "{{.Name}}"
    data_type: {{.DataType}}
    dims: [ {{ints64 .Dims}} ]
  }
]
{{- end}}
{{- range .Output}}
output [
  {
    name: "{{.Name}}"
    data_type: {{.DataType}}
    dims: [ {{ints64 .Dims}} ]
  }
]
{{- end}}
{{- range .InstanceGroup}}
instance_group [
  {
    count: {{.Count}}
    kind: {{.Kind}}
  }
]
{{- end}}
{{- with .DynamicBatching}}
dynamic_batching {
{{- if .PreferredBatchSize}}
  preferred_batch_size: [ {{ints .PreferredBatchSize}} ]
{{- end}}
  max_queue_delay_microseconds: {{.MaxQueueDelayMicroseconds}}
{{- if .MaxQueueSize}}
  default_queue_policy {
    max_queue_size: {{.MaxQueueSize}}
  }
{{- end}}
}
{{- end}}
{{- with .VersionPolicy}}
{{- if .Latest}}
version_policy: { latest: { num_versions: {{.Latest.NumVersions}} } }
{{- else if .Specific}}
version_policy: { specific: { versions: [ {{ints64 .Specific.Versions}} ] } }
{{- else if .All}}
version_policy: { all: {} }
{{- end}}
{{- end}}
`))

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}

func joinInts64(xs []int64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatInt(x, 10)
	}
	return strings.Join(parts, ", ")
}
