package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudfence/containment-engine/internal/utils"
)

// ParameterStoreClient fetches decrypted signing keys from a parameter-store
// style HTTP service. Responses are never cached: every call observes the
// current key.
type ParameterStoreClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
}

// NewParameterStoreClient constructs a client for the configured endpoint.
func NewParameterStoreClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *ParameterStoreClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ParameterStoreClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  100 * time.Millisecond,
	}
}

// SigningKey fetches the named parameter with decryption enabled.
func (c *ParameterStoreClient) SigningKey(ctx context.Context, name string) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, errors.New("parameter store not configured")
	}
	if name == "" {
		return nil, errors.New("parameter name is required")
	}

	endpoint := fmt.Sprintf("%s/v1/parameters/%s?decrypt=true", c.baseURL, url.PathEscape(name))

	var value string
	err := utils.Retry(ctx, c.maxRetries, c.retryBase, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return true, err
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return true, fmt.Errorf("parameter %q not found", name)
		case resp.StatusCode >= 500:
			return false, fmt.Errorf("parameter store returned %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return true, fmt.Errorf("parameter store returned %s", resp.Status)
		}

		var payload struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return true, fmt.Errorf("decode parameter response: %w", err)
		}
		value = payload.Value
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, fmt.Errorf("parameter %q has an empty value", name)
	}
	return []byte(value), nil
}
