// Package client communicates with the owning platform's REST API,
// which holds the hosted credential store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/automatos/unified-adapter/internal/config"
	"github.com/automatos/unified-adapter/internal/models"
)

// ErrCredentialNotFound signals a 404 from the credential endpoint.
var ErrCredentialNotFound = fmt.Errorf("credential not found")

// PlatformClient calls the owning platform's credential endpoint using
// the adapter's internal service credential.
type PlatformClient struct {
	baseURL     string
	apiKey      string
	serviceName string
	httpClient  *http.Client
}

// NewPlatformClient creates a client targeting the configured platform URL.
func NewPlatformClient(cfg *config.PlatformConfig) *PlatformClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PlatformClient{
		baseURL:     cfg.URL,
		apiKey:      cfg.APIKey,
		serviceName: cfg.ServiceName,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ResolveCredential looks up a hosted credential by reference.
// POST /api/credentials/resolve -> { status: "ok", data: {...} }
// Returns ErrCredentialNotFound on 404.
func (c *PlatformClient) ResolveCredential(ctx context.Context, ref models.CredentialRef) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"environment":  ref.Environment,
		"service_name": c.serviceName,
	}
	if ref.ID != 0 {
		payload["credential_id"] = ref.ID
	}
	if ref.Name != "" {
		payload["credential_name"] = ref.Name
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/credentials/resolve", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach platform: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrCredentialNotFound
	}
	if resp.StatusCode != http.StatusOK {
		// Body deliberately omitted: credential endpoint responses must
		// never leak into error chains.
		return nil, fmt.Errorf("platform returned %d resolving credential", resp.StatusCode)
	}

	var result struct {
		Status string                 `json:"status"`
		Data   map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse credential response: %w", err)
	}
	if result.Data == nil {
		return nil, ErrCredentialNotFound
	}

	return result.Data, nil
}
