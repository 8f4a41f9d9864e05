// Package schema checks decoded table values against a JSON Schema.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator checks decoded JSON values (as produced by encoding/json into any)
// against a resolved JSON Schema document.
type Validator struct {
	resolved *jsonschema.Resolved
}

// NewValidator creates a validator from a JSON Schema document.
func NewValidator(schemaDoc []byte) (*Validator, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(schemaDoc, &s); err != nil {
		return nil, fmt.Errorf("parse JSON schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve JSON schema: %w", err)
	}
	return &Validator{resolved: resolved}, nil
}

// LoadValidator reads a JSON Schema document from path.
func LoadValidator(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file %s: %w", path, err)
	}
	return NewValidator(data)
}

// Validate checks val against the schema.
func (v *Validator) Validate(val any) error {
	if err := v.resolved.Validate(val); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
