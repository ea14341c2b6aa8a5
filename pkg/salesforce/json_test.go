package salesforce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONDecodesValidPayload(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	err := decodeJSON(strings.NewReader(`{"name":"Acme"}`), &out)
	require.NoError(t, err)
	assert.Equal(t, "Acme", out.Name)
}

func TestDecodeJSONReturnsWrappedErrorOnMalformedPayload(t *testing.T) {
	var out map[string]any
	err := decodeJSON(strings.NewReader(`not json`), &out)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "decode json")
}

func TestDecodeJSONEmptyBodyErrors(t *testing.T) {
	var out map[string]any
	err := decodeJSON(strings.NewReader(``), &out)
	assert.Error(t, err)
}
