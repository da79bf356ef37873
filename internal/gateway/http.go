package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/utils"
)

// ControlPlaneClient implements ResourceGateway against the cloud-control
// REST shim. Transient failures (network errors, 5xx, 429) are retried with
// backoff; a 404 maps to ErrResourceNotFound and is never retried.
type ControlPlaneClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
}

// NewControlPlaneClient constructs a client targeting the configured control
// plane endpoint.
func NewControlPlaneClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *ControlPlaneClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ControlPlaneClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  100 * time.Millisecond,
	}
}

// ListAttachments returns the resource's network attachments.
func (c *ControlPlaneClient) ListAttachments(ctx context.Context, resourceID string) ([]models.Attachment, error) {
	var response struct {
		Attachments []models.Attachment `json:"attachments"`
	}
	endpoint := c.resourceURL(resourceID, "attachments")
	if err := c.doJSON(ctx, "gateway.ListAttachments", http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.Attachments, nil
}

// ReplacePolicies atomically replaces the policy set on an attachment.
func (c *ControlPlaneClient) ReplacePolicies(ctx context.Context, attachmentID string, policyIDs []string) error {
	endpoint := fmt.Sprintf("%s/v1/attachments/%s/policies", c.baseURL, url.PathEscape(attachmentID))
	payload := map[string]any{"policyIds": policyIDs}
	return c.doJSON(ctx, "gateway.ReplacePolicies", http.MethodPut, endpoint, payload, nil)
}

// Tags returns the resource's metadata tags.
func (c *ControlPlaneClient) Tags(ctx context.Context, resourceID string) (map[string]string, error) {
	var response struct {
		Tags map[string]string `json:"tags"`
	}
	if err := c.doJSON(ctx, "gateway.Tags", http.MethodGet, c.resourceURL(resourceID, "tags"), nil, &response); err != nil {
		return nil, err
	}
	if response.Tags == nil {
		response.Tags = map[string]string{}
	}
	return response.Tags, nil
}

// SetTags writes metadata tags on the resource.
func (c *ControlPlaneClient) SetTags(ctx context.Context, resourceID string, tags map[string]string) error {
	payload := map[string]any{"tags": tags}
	return c.doJSON(ctx, "gateway.SetTags", http.MethodPut, c.resourceURL(resourceID, "tags"), payload, nil)
}

// DeleteTags removes metadata tags from the resource.
func (c *ControlPlaneClient) DeleteTags(ctx context.Context, resourceID string, keys []string) error {
	payload := map[string]any{"keys": keys}
	return c.doJSON(ctx, "gateway.DeleteTags", http.MethodDelete, c.resourceURL(resourceID, "tags"), payload, nil)
}

// CompareAndSwapTag performs a server-side conditional tag write.
func (c *ControlPlaneClient) CompareAndSwapTag(ctx context.Context, resourceID, key, expect, value string) (bool, error) {
	payload := map[string]any{"key": key, "expect": expect, "value": value}
	var response struct {
		Swapped bool `json:"swapped"`
	}
	endpoint := c.resourceURL(resourceID, "tags:cas")
	if err := c.doJSON(ctx, "gateway.CompareAndSwapTag", http.MethodPost, endpoint, payload, &response); err != nil {
		return false, err
	}
	return response.Swapped, nil
}

func (c *ControlPlaneClient) resourceURL(resourceID, suffix string) string {
	return fmt.Sprintf("%s/v1/resources/%s/%s", c.baseURL, url.PathEscape(resourceID), suffix)
}

func (c *ControlPlaneClient) doJSON(ctx context.Context, op, method, endpoint string, payload, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%s: control plane base URL not configured", op)
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: marshal payload: %w", op, err)
		}
	}

	transient := false
	err := utils.Retry(ctx, c.maxRetries, c.retryBase, func() (bool, error) {
		transient = false
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return true, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			transient = true
			return false, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return true, ErrResourceNotFound
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			transient = true
			return false, fmt.Errorf("control plane returned %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return true, fmt.Errorf("control plane returned %s", resp.Status)
		}

		if out == nil {
			return true, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return true, fmt.Errorf("decode response: %w", err)
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return ErrResourceNotFound
		}
		if transient {
			return &TransientError{Op: op, Err: err}
		}
		return utils.NewAppError(op, "control plane request failed", err)
	}
	return nil
}
