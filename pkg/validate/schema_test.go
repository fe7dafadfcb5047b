package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNamingConventionDocumentValid(t *testing.T) {
	doc := map[string]interface{}{
		"version": 1,
		"id":      "default-naming-convention",
		"rules": map[string]interface{}{
			"object_type": map[string]interface{}{"case": "pascal_case", "min_length": 2},
		},
		"reserved_words": []interface{}{"Type", "Class"},
	}
	require.NoError(t, ValidateNamingConventionDocument(doc))
}

func TestValidateNamingConventionDocumentMissingRequiredField(t *testing.T) {
	doc := map[string]interface{}{
		"version": 1,
		"rules":   map[string]interface{}{},
	}
	err := ValidateNamingConventionDocument(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestValidateNamingConventionDocumentWrongFieldType(t *testing.T) {
	doc := map[string]interface{}{
		"version": "not-a-number",
		"id":      "x",
		"rules":   map[string]interface{}{},
	}
	err := ValidateNamingConventionDocument(doc)
	require.Error(t, err)
}

func TestNamingConventionSchemaCompiles(t *testing.T) {
	schema, err := NamingConventionSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)
}
