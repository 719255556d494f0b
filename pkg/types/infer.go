package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// DatatypeBytes is the KServe v2 datatype of text tensors.
const DatatypeBytes = "BYTES"

// ErrInvalidText is returned when BYTES data is not valid UTF-8.
var ErrInvalidText = errors.New("BYTES data is not valid UTF-8")

// InferRequest is the body of POST /v2/models/{model}/infer.
type InferRequest struct {
	// Optional request identifier echoed in the response.
	// example: 6f1c2a
	ID string `json:"id,omitempty" example:"6f1c2a"`
	// Free-form request parameters. Generation parameters are fixed server-side and ignored here.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Input tensors. Text-generation models take exactly one: TEXT.
	Inputs []InferInputTensor `json:"inputs"`
	// Requested outputs. Empty means all outputs.
	Outputs []InferRequestedOutput `json:"outputs,omitempty"`
}

// InferInputTensor is one named input tensor.
type InferInputTensor struct {
	// example: TEXT
	Name string `json:"name" example:"TEXT"`
	// Tensor shape; text inputs are 2-D [rows, cols].
	// example: [1,1]
	Shape []int64 `json:"shape" swaggertype:"array,integer" example:"1,1"`
	// example: BYTES
	Datatype   string         `json:"datatype" example:"BYTES"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// Row-major tensor contents, flat or nested by row.
	Data TextData `json:"data" swaggertype:"array,string" example:"Hello, can you explain what large language models are?"`
}

// InferRequestedOutput selects an output tensor.
type InferRequestedOutput struct {
	// example: GENERATED_TEXT
	Name       string         `json:"name" example:"GENERATED_TEXT"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// InferResponse is returned by the infer endpoint.
type InferResponse struct {
	// example: meta-llama_Meta-Llama-3-8B
	ModelName string `json:"model_name" example:"meta-llama_Meta-Llama-3-8B"`
	// example: 1
	ModelVersion string `json:"model_version,omitempty" example:"1"`
	// example: 6f1c2a
	ID         string              `json:"id,omitempty" example:"6f1c2a"`
	Parameters map[string]any      `json:"parameters,omitempty"`
	Outputs    []InferOutputTensor `json:"outputs"`
}

// InferOutputTensor is one named output tensor, data flattened row-major.
type InferOutputTensor struct {
	// example: GENERATED_TEXT
	Name string `json:"name" example:"GENERATED_TEXT"`
	// example: [1,1]
	Shape []int64 `json:"shape" swaggertype:"array,integer" example:"1,1"`
	// example: BYTES
	Datatype string   `json:"datatype" example:"BYTES"`
	Data     TextData `json:"data" swaggertype:"array,string"`
}

// TextData holds BYTES tensor contents as UTF-8 strings in row-major order.
// It decodes from a flat array or arbitrarily nested arrays of strings and
// always encodes flat. Decoding rejects invalid UTF-8 and unpaired surrogate
// escapes instead of substituting U+FFFD.
type TextData []string

func (d *TextData) UnmarshalJSON(b []byte) error {
	if err := checkText(b); err != nil {
		return err
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	var out []string
	if err := flattenText(raw, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

// checkText scans raw JSON for bytes or \u escapes that do not form UTF-8.
func checkText(b []byte) error {
	if !utf8.Valid(b) {
		return ErrInvalidText
	}
	for i := bytes.IndexByte(b, '\\'); i >= 0; {
		if i+1 >= len(b) {
			return nil
		}
		next := i + 2
		if b[i+1] == 'u' {
			r, ok := hexRune(b[i+2:])
			if !ok {
				return nil // left to json.Unmarshal
			}
			next = i + 6
			switch {
			case utf16.IsSurrogate(r) && r < 0xdc00:
				lo, ok := rune(0), false
				if next+1 < len(b) && b[next] == '\\' && b[next+1] == 'u' {
					lo, ok = hexRune(b[next+2:])
				}
				if !ok || utf16.DecodeRune(r, lo) == utf8.RuneError {
					return fmt.Errorf("%w: unpaired surrogate \\u%04x", ErrInvalidText, r)
				}
				next += 6
			case utf16.IsSurrogate(r):
				return fmt.Errorf("%w: unpaired surrogate \\u%04x", ErrInvalidText, r)
			}
		}
		j := bytes.IndexByte(b[next:], '\\')
		if j < 0 {
			return nil
		}
		i = next + j
	}
	return nil
}

func hexRune(b []byte) (rune, bool) {
	if len(b) < 4 {
		return 0, false
	}
	var r rune
	for _, c := range b[:4] {
		switch {
		case '0' <= c && c <= '9':
			c -= '0'
		case 'a' <= c && c <= 'f':
			c = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			c = c - 'A' + 10
		default:
			return 0, false
		}
		r = r<<4 | rune(c)
	}
	return r, true
}

func flattenText(v any, out *[]string) error {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case []any:
		for _, e := range t {
			if err := flattenText(e, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("BYTES data must contain strings, got %T", v)
	}
	return nil
}

func (d TextData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(d))
}
