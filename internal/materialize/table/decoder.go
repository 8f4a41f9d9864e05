package table

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/lsm/streamview/internal/schema"
)

// Decoder turns a raw record value into a structured value.
type Decoder interface {
	Decode(key string, value []byte) (any, error)
}

// DecoderOption configures a JSONDecoder.
type DecoderOption func(*JSONDecoder)

// WithSchema validates every decoded value against v.
func WithSchema(v *schema.Validator) DecoderOption {
	return func(d *JSONDecoder) { d.validator = v }
}

// WithValuePath keeps only the part of the document selected by a gjson path
// (for example "payload.after").
func WithValuePath(path string) DecoderOption {
	return func(d *JSONDecoder) { d.path = path }
}

// JSONDecoder parses values as JSON documents.
type JSONDecoder struct {
	validator *schema.Validator
	path      string
}

// NewJSONDecoder creates a JSON decoder.
func NewJSONDecoder(opts ...DecoderOption) *JSONDecoder {
	d := &JSONDecoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var errInvalidJSON = errors.New("invalid JSON")

// Decode parses value, optionally projects it and validates the result.
func (d *JSONDecoder) Decode(_ string, value []byte) (any, error) {
	var out any
	if d.path != "" {
		if !gjson.ValidBytes(value) {
			return nil, errInvalidJSON
		}
		res := gjson.GetBytes(value, d.path)
		if !res.Exists() {
			return nil, fmt.Errorf("path %q not found", d.path)
		}
		out = res.Value()
	} else if err := json.Unmarshal(value, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}

	if d.validator != nil {
		if err := d.validator.Validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
