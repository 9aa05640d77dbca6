package poster

import (
	"bytes"
	"embed"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/folio-import/internal/folio"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// SchemaValidator checks incoming lines against the record schema of an
// object type.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the built-in schema for ot. A non-empty
// override path replaces it with a schema file from disk.
func NewSchemaValidator(ot folio.ObjectType, override string) (*SchemaValidator, error) {
	if _, err := folio.ParseObjectType(string(ot)); err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	common, err := schemaFS.ReadFile("schemas/common.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read common schema: %w", err)
	}
	if err := compiler.AddResource("common.json", bytes.NewReader(common)); err != nil {
		return nil, fmt.Errorf("failed to load common schema: %w", err)
	}

	var data []byte
	if override != "" {
		data, err = os.ReadFile(override)
	} else {
		data, err = schemaFS.ReadFile("schemas/" + string(ot) + ".json")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s schema: %w", ot, err)
	}

	name := string(ot) + ".json"
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load %s schema: %w", ot, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", ot, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate implements batch.Validator.
func (v *SchemaValidator) Validate(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("record does not match schema: %w", err)
	}
	return nil
}
