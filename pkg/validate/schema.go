package validate

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// namingConventionDocumentSchema describes the on-disk shape of a naming
// convention document before it is unmarshaled into a RuleSet: a version,
// an id, a map of per-entity-type rules, a reserved word list, and
// creation/update timestamps.
const namingConventionDocumentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["version", "id", "rules"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"id": {"type": "string", "minLength": 1},
		"rules": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"case": {"type": "string"},
					"min_length": {"type": "integer", "minimum": 0},
					"max_length": {"type": "integer", "minimum": 0}
				}
			}
		},
		"reserved_words": {
			"type": "array",
			"items": {"type": "string"}
		},
		"created_at": {"type": "string", "format": "date-time"},
		"updated_at": {"type": "string", "format": "date-time"}
	}
}`

const namingConventionSchemaURL = "https://oms.schemas.local/naming-convention-document.schema.json"

// NamingConventionSchema compiles the naming-convention document schema,
// mirroring the firewall's per-resource jsonschema.Compiler/AddResource/
// Compile sequence: a fixed in-memory resource URL feeding a Draft 2020-12
// compiler.
func NamingConventionSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(namingConventionSchemaURL, strings.NewReader(namingConventionDocumentSchema)); err != nil {
		return nil, fmt.Errorf("load naming-convention document schema: %w", err)
	}
	compiled, err := c.Compile(namingConventionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile naming-convention document schema: %w", err)
	}
	return compiled, nil
}

// ValidateNamingConventionDocument checks a decoded naming-convention
// document (as produced by unmarshaling ingested JSON/YAML into a
// map[string]interface{}) against NamingConventionSchema.
func ValidateNamingConventionDocument(doc map[string]interface{}) error {
	schema, err := NamingConventionSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("naming convention document failed schema validation: %w", err)
	}
	return nil
}
