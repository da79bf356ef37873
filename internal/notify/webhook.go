package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/utils"
)

// WebhookPublisher posts notifications as JSON to a configured endpoint with
// bounded retries.
type WebhookPublisher struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	retryBase  time.Duration
}

// NewWebhookPublisher constructs a publisher for the given endpoint.
func NewWebhookPublisher(endpoint string, timeout time.Duration, maxRetries int, logger *slog.Logger) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookPublisher{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: maxRetries,
		retryBase:  200 * time.Millisecond,
	}
}

// Publish delivers the notification, retrying transient failures.
func (p *WebhookPublisher) Publish(ctx context.Context, n models.Notification) error {
	if p.endpoint == "" {
		return errors.New("webhook endpoint not configured")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	err = utils.Retry(ctx, p.maxRetries, p.retryBase, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if err != nil {
			return true, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return false, fmt.Errorf("notification channel returned %s", resp.Status)
		}
		if resp.StatusCode >= 300 {
			return true, fmt.Errorf("notification channel returned %s", resp.Status)
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	p.logger.Debug("notification published",
		slog.String("kind", string(n.Kind)),
		slog.String("resource_id", n.ResourceID),
	)
	return nil
}
