package secret

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/originpath/assocpipeline/internal/httpcore"
)

// HTTPStoreBackend resolves secrets from a generic key-value HTTP secret
// store: GET {baseURL}/{key} returning {"value": "..."}. The example
// corpus carries no dedicated secrets-manager SDK, so this is a thin
// client in the teacher's pkg/* constructor-with-options idiom rather
// than a vendor-specific integration.
type HTTPStoreBackend struct {
	client  *httpcore.Client
	baseURL string
	token   string
}

// NewHTTPStoreBackend creates a backend against an external secret store.
func NewHTTPStoreBackend(client *httpcore.Client, baseURL, token string) *HTTPStoreBackend {
	return &HTTPStoreBackend{client: client, baseURL: baseURL, token: token}
}

func (b *HTTPStoreBackend) Name() string { return "external_store" }

type storeResponse struct {
	Value string `json:"value"`
}

func (b *HTTPStoreBackend) Lookup(ctx context.Context, key string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/"+key, nil)
	if err != nil {
		return "", false, eris.Wrap(err, "build secret store request")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, eris.Errorf("secret store returned status %d", resp.StatusCode)
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, eris.Wrap(err, "decode secret store response")
	}
	return out.Value, out.Value != "", nil
}
