package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudfence/containment-engine/internal/gateway"
	"github.com/cloudfence/containment-engine/internal/metrics"
	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/notify"
)

// RestorationResult summarises a restoration invocation.
type RestorationResult struct {
	ResourceID string
	// Noop is true when the resource was already Healthy.
	Noop     bool
	Restored []string
}

// RestorationService reverses a containment given a verified authorization:
// it reapplies the recorded original policies and marks the resource Healthy.
type RestorationService struct {
	logger   *slog.Logger
	gateway  gateway.ResourceGateway
	notifier notify.Publisher
	tags     TagScheme
	now      func() time.Time
}

// NewRestorationService constructs the restoration handler.
func NewRestorationService(logger *slog.Logger, gw gateway.ResourceGateway, notifier notify.Publisher, tags TagScheme) *RestorationService {
	if logger == nil {
		logger = slog.Default()
	}
	tags.applyDefaults()
	return &RestorationService{
		logger:   logger,
		gateway:  gw,
		notifier: notifier,
		tags:     tags,
		now:      time.Now,
	}
}

// Restore consumes an Authorization produced by a successful token
// verification. A second restore for an already-Healthy resource is a no-op
// success; the handler never marks a resource Healthy while any attachment
// still carries the deny-all policy.
func (s *RestorationService) Restore(ctx context.Context, auth models.Authorization) (RestorationResult, error) {
	start := s.now()
	result, err := s.restore(ctx, auth)
	duration := s.now().Sub(start)

	switch {
	case err == nil && result.Noop:
		metrics.ObserveRestoration(duration, metrics.OutcomeNoop)
	case err == nil:
		metrics.ObserveRestoration(duration, metrics.OutcomeSuccess)
	case errors.Is(err, ErrSnapshotMissing):
		metrics.ObserveRestoration(duration, metrics.OutcomeSkipped)
	default:
		var partial *PartialRestorationError
		if errors.As(err, &partial) {
			metrics.ObserveRestoration(duration, metrics.OutcomePartial)
		} else {
			metrics.ObserveRestoration(duration, metrics.OutcomeError)
		}
	}
	return result, err
}

func (s *RestorationService) restore(ctx context.Context, auth models.Authorization) (RestorationResult, error) {
	result := RestorationResult{ResourceID: auth.ResourceID}

	tags, err := s.gateway.Tags(ctx, auth.ResourceID)
	if err != nil {
		return result, fmt.Errorf("read resource tags: %w", err)
	}

	if tags[s.tags.StatusKey] != s.tags.QuarantinedValue {
		s.logger.Info("resource already healthy, restore is a no-op",
			slog.String("resource_id", auth.ResourceID))
		result.Noop = true
		return result, nil
	}

	snapshot := tags[s.tags.PoliciesKey]
	if snapshot == "" {
		s.publish(ctx, models.Notification{
			ID:         uuid.New().String(),
			Kind:       models.NotifyRestoreSkipped,
			ResourceID: auth.ResourceID,
			Subject:    "[containment] restore skipped",
			Message: fmt.Sprintf("Restore skipped for %s: no recorded original policies. Manual remediation required.",
				auth.ResourceID),
			CreatedAt: s.now().UTC(),
		})
		return result, ErrSnapshotMissing
	}
	original := strings.Split(snapshot, ",")

	attachments, err := s.gateway.ListAttachments(ctx, auth.ResourceID)
	if err != nil {
		return result, fmt.Errorf("list attachments: %w", err)
	}

	var unrestored []string
	for _, att := range attachments {
		if err := s.gateway.ReplacePolicies(ctx, att.AttachmentID, original); err != nil {
			s.logger.Error("failed to restore attachment",
				slog.String("resource_id", auth.ResourceID),
				slog.String("attachment_id", att.AttachmentID),
				slog.Any("error", err),
			)
			unrestored = append(unrestored, att.AttachmentID)
		}
	}

	if len(unrestored) > 0 {
		partialErr := &PartialRestorationError{ResourceID: auth.ResourceID, Unrestored: unrestored}
		if err := s.gateway.SetTags(ctx, auth.ResourceID, map[string]string{s.tags.RemediationKey: "true"}); err != nil {
			s.logger.Error("failed to flag resource for manual remediation",
				slog.String("resource_id", auth.ResourceID), slog.Any("error", err))
		}
		s.publish(ctx, models.Notification{
			ID:         uuid.New().String(),
			Kind:       models.NotifyRestoreFailed,
			ResourceID: auth.ResourceID,
			Subject:    "[containment] restore incomplete",
			Message: fmt.Sprintf("Resource %s remains Quarantined: %d attachment(s) could not be restored: %s. Flagged for manual remediation.",
				auth.ResourceID, len(unrestored), strings.Join(unrestored, ", ")),
			CreatedAt: s.now().UTC(),
		})
		return result, partialErr
	}

	// Every attachment carries its original policies again; only now is the
	// quarantine metadata consumed and cleared.
	clearKeys := []string{s.tags.PoliciesKey, s.tags.QuarantinedAtKey, s.tags.RemediationKey}
	if err := s.gateway.DeleteTags(ctx, auth.ResourceID, clearKeys); err != nil {
		return result, fmt.Errorf("clear quarantine tags: %w", err)
	}
	if err := s.gateway.SetTags(ctx, auth.ResourceID, map[string]string{s.tags.StatusKey: s.tags.HealthyValue}); err != nil {
		return result, fmt.Errorf("tag resource healthy: %w", err)
	}
	result.Restored = original

	s.publish(ctx, models.Notification{
		ID:         uuid.New().String(),
		Kind:       models.NotifyRestored,
		ResourceID: auth.ResourceID,
		Subject:    "[containment] resource restored",
		Message: fmt.Sprintf("Resource %s restored to original policies (%s) and tagged %s=%s.",
			auth.ResourceID, strings.Join(original, ", "), s.tags.StatusKey, s.tags.HealthyValue),
		CreatedAt: s.now().UTC(),
	})

	s.logger.Info("resource restored",
		slog.String("resource_id", auth.ResourceID),
		slog.String("finding_id", auth.FindingID),
		slog.Int("attachments", len(attachments)),
	)
	return result, nil
}

// Describe reports the containment view of a resource as recorded in its
// metadata tags.
func (s *RestorationService) Describe(ctx context.Context, resourceID string) (models.CompromisedResource, error) {
	tags, err := s.gateway.Tags(ctx, resourceID)
	if err != nil {
		return models.CompromisedResource{}, err
	}

	out := models.CompromisedResource{
		ResourceID: resourceID,
		Status:     models.StatusHealthy,
	}
	if tags[s.tags.StatusKey] == s.tags.QuarantinedValue {
		out.Status = models.StatusQuarantined
	}
	if snapshot := tags[s.tags.PoliciesKey]; snapshot != "" {
		out.OriginalPolicyIDs = strings.Split(snapshot, ",")
	}
	if at := tags[s.tags.QuarantinedAtKey]; at != "" {
		if ts, err := time.Parse(time.RFC3339, at); err == nil {
			out.QuarantinedAt = ts
		}
	}
	return out, nil
}

func (s *RestorationService) publish(ctx context.Context, n models.Notification) {
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.Error("failed to publish notification",
			slog.String("kind", string(n.Kind)),
			slog.String("resource_id", n.ResourceID),
			slog.Any("error", err),
		)
	}
}
