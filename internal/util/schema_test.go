package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema(t *testing.T) {
	type args struct {
		Query   string   `json:"query" description:"SQL statement"`
		Limit   *int     `json:"limit,omitempty" description:"Row cap"`
		Verbose bool     `json:"verbose,omitempty"`
		Tags    []string `json:"tags,omitempty"`
		Skipped string   `json:"-"`
	}

	schema := CreateSchema(args{})
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 4)

	query, ok := props["query"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", query["type"])
	assert.Equal(t, "SQL statement", query["description"])

	limit, ok := props["limit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "integer", limit["type"])

	tags, ok := props["tags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "array", tags["type"])

	assert.Equal(t, []string{"query"}, schema["required"])
}

func TestCreateSchemaNonStruct(t *testing.T) {
	schema := CreateSchema("not a struct")
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"valid", map[string]any{"query": "SELECT 1"}, ""},
		{"valid with optional", map[string]any{"query": "SELECT 1", "limit": 10}, ""},
		{"json decoded integer", map[string]any{"query": "SELECT 1", "limit": float64(10)}, ""},
		{"missing required", map[string]any{"limit": 10}, "required field is missing"},
		{"wrong type", map[string]any{"query": 42}, "expected type string"},
		{"fractional integer", map[string]any{"query": "q", "limit": 1.5}, "expected type integer"},
		{"extra field ignored", map[string]any{"query": "q", "bonus": true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateParametersJSONDecodedRequired(t *testing.T) {
	// Schemas round-tripped through JSON carry []any for required.
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"query": "q"}, schema))
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
}
