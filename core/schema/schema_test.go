package schema

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pointSchema = `{
	"$id": "https://example.com/point.json",
	"type": "object",
	"properties": {
		"x": {"$ref": "https://example.com/refs/coordinate.json"},
		"y": {"$ref": "https://example.com/refs/coordinate.json"}
	},
	"required": ["x", "y"]
}`

const coordinateRef = `{
	"$id": "https://example.com/refs/coordinate.json",
	"type": "number"
}`

func TestValidatorFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"point.json":           {Data: []byte(pointSchema)},
		"refs/coordinate.json": {Data: []byte(coordinateRef)},
		"README.md":            {Data: []byte("ignored")},
	}
	v, err := NewValidatorFromFS(fsys)
	require.NoError(t, err)
	require.True(t, v.HasSchema("https://example.com/point.json"))

	assert.NoError(t, v.ValidateBytes([]byte(`{"x": 1, "y": 2}`), "https://example.com/point.json"))
	assert.Error(t, v.ValidateBytes([]byte(`{"x": "one", "y": 2}`), "https://example.com/point.json"))
	assert.Error(t, v.ValidateBytes([]byte(`{"x": 1}`), "https://example.com/point.json"))
	assert.Error(t, v.ValidateBytes([]byte(`{}`), "https://example.com/unknown.json"))
}

func TestValidatorWithoutRefs(t *testing.T) {
	fsys := fstest.MapFS{
		"name.json": {Data: []byte(`{"$id": "name", "type": "string"}`)},
	}
	v, err := NewValidatorFromFS(fsys)
	require.NoError(t, err)
	assert.NoError(t, v.ValidateStruct("hello", "name"))
	assert.Error(t, v.ValidateStruct(42, "name"))
}

func TestValidatorMissingID(t *testing.T) {
	_, err := NewValidator([]string{`{"type": "string"}`}, nil)
	assert.Error(t, err)
}
