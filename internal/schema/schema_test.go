package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T, dir, name string, doc Document) {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func TestRegistryResolvesCrossReferences(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "address.json", Document{
		ID: "schemas.address",
		Fields: []Field{
			{Name: "city", Type: TypeString, Required: true},
		},
	})
	writeSchema(t, dir, "company.json", Document{
		ID: "extraction.html_parser.output",
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "address", Type: TypeObject, Ref: "schemas.address"},
		},
	})

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	ok, diags := reg.Validate("extraction.html_parser.output", map[string]any{
		"name":    "Acme",
		"address": map[string]any{"city": "Austin"},
	})
	assert.True(t, ok, "diags: %v", diags)

	ok, diags = reg.Validate("extraction.html_parser.output", map[string]any{
		"name":    "Acme",
		"address": map[string]any{},
	})
	assert.False(t, ok)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Path, "address.city")
}

func TestRegistryFailsFastOnUnresolvedReference(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "company.json", Document{
		ID: "extraction.html_parser.output",
		Fields: []Field{
			{Name: "address", Type: TypeObject, Ref: "schemas.missing"},
		},
	})

	_, err := NewRegistry(dir)
	require.Error(t, err)
}

func TestValidateMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "co.json", Document{
		ID: "x",
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
		},
	})
	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	ok, diags := reg.Validate("x", map[string]any{})
	assert.False(t, ok)
	require.Len(t, diags, 1)
	assert.Equal(t, "$.name", diags[0].Path)
}

func TestValidateUnknownSchemaID(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	require.NoError(t, err)

	ok, diags := reg.Validate("nope", map[string]any{})
	assert.False(t, ok)
	require.Len(t, diags, 1)
}
