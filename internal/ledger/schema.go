package ledger

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed ledger-entry.schema.json
var entrySchemaJSON string

const entrySchemaURL = "ledger-entry.schema.json"

// Validator checks a serialized ledger line before it is written.
type Validator interface {
	Validate(line []byte) error
}

// SchemaValidator validates ledger lines against a JSON Schema document.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded ledger entry schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	return CompileSchema(entrySchemaURL, entrySchemaJSON)
}

// CompileSchema compiles a custom schema document.
func CompileSchema(url, schema string) (*SchemaValidator, error) {
	s, err := jsonschema.CompileString(url, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile ledger schema: %w", err)
	}
	return &SchemaValidator{schema: s}, nil
}

// Validate decodes line and checks it against the schema.
func (v *SchemaValidator) Validate(line []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}
