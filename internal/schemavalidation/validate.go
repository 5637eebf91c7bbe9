// Package schemavalidation checks documents against a JSON Schema.
package schemavalidation

import (
	"bytes"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates decoded JSON values against one compiled schema.
type Validator struct {
	url    string
	schema *jsonschema.Schema
}

// Load compiles the schema file at path.
func Load(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Compile(path, data)
}

// Compile compiles schema data registered under url.
func Compile(url string, data []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{url: url, schema: schema}, nil
}

// Validate checks a decoded JSON value. Numbers may be float64 or
// json.Number.
func (v *Validator) Validate(instance any) error {
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// URL returns the location the schema was registered under.
func (v *Validator) URL() string {
	return v.url
}
