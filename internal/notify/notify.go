// Package notify delivers operator-facing messages: quarantine alerts with
// their approval reference, restoration outcomes, and security events.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cloudfence/containment-engine/internal/models"
)

// Publisher sends a notification to the external channel. Delivery is
// fire-and-forget from the protocol's point of view; implementations may
// retry internally.
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// LogPublisher writes notifications to the structured log. It is the
// fallback when no webhook channel is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish logs the notification at info level.
func (p LogPublisher) Publish(_ context.Context, n models.Notification) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("kind", string(n.Kind)),
		slog.String("resource_id", n.ResourceID),
		slog.String("subject", n.Subject),
		slog.String("message", n.Message),
	)
	return nil
}

// Recorder captures notifications in memory for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []models.Notification
}

// Publish appends the notification to the recorded list.
func (r *Recorder) Publish(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of all recorded notifications.
func (r *Recorder) Sent() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.sent...)
}
