package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudfence/containment-engine/internal/approval"
	"github.com/cloudfence/containment-engine/internal/gateway"
	"github.com/cloudfence/containment-engine/internal/metrics"
	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/notify"
	"github.com/cloudfence/containment-engine/internal/utils"
)

// ContainmentConfig tunes the containment handler.
type ContainmentConfig struct {
	// DenyAllPolicyID is the isolation policy swapped onto every attachment.
	DenyAllPolicyID string
	Tags            TagScheme
	// SampleResourcePattern matches synthetic resource IDs produced by the
	// detection engine's sample findings; matches are swapped for
	// SampleResourceID so test findings exercise a real resource.
	SampleResourcePattern string
	SampleResourceID      string
}

// ContainmentResult summarises a containment invocation.
type ContainmentResult struct {
	ResourceID        string
	Snapshotted       bool
	Attachments       int
	TokenID           string
	ApprovalReference string
}

// ContainmentService reacts to a finding: it snapshots the resource's
// original network policies, isolates every attachment behind the deny-all
// policy, and mints the approval token an operator needs to undo it.
type ContainmentService struct {
	logger        *slog.Logger
	gateway       gateway.ResourceGateway
	issuer        *approval.Issuer
	notifier      notify.Publisher
	cfg           ContainmentConfig
	samplePattern *regexp.Regexp
	latencies     *utils.LatencyTracker
	now           func() time.Time
}

// NewContainmentService constructs the containment handler.
func NewContainmentService(logger *slog.Logger, gw gateway.ResourceGateway, issuer *approval.Issuer, notifier notify.Publisher, cfg ContainmentConfig) (*ContainmentService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DenyAllPolicyID == "" {
		return nil, errors.New("deny-all policy id is required")
	}
	cfg.Tags.applyDefaults()

	var samplePattern *regexp.Regexp
	if cfg.SampleResourcePattern != "" {
		var err error
		samplePattern, err = regexp.Compile(cfg.SampleResourcePattern)
		if err != nil {
			return nil, fmt.Errorf("compile sample resource pattern: %w", err)
		}
	}

	return &ContainmentService{
		logger:        logger,
		gateway:       gw,
		issuer:        issuer,
		notifier:      notifier,
		cfg:           cfg,
		samplePattern: samplePattern,
		latencies:     utils.NewLatencyTracker(1024),
		now:           time.Now,
	}, nil
}

// Contain quarantines the resource named by the finding. It is safe to
// re-invoke for an already-quarantined resource: the original policy snapshot
// is never overwritten, and each invocation issues a fresh approval token
// superseding the previous one.
func (s *ContainmentService) Contain(ctx context.Context, finding models.Finding) (ContainmentResult, error) {
	start := s.now()
	result, err := s.contain(ctx, finding)
	duration := s.now().Sub(start)

	switch {
	case err == nil:
		s.latencies.Observe(duration)
		metrics.ObserveContainment(duration, metrics.OutcomeSuccess)
		if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
			s.logger.Info("containment latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
		}
	case errors.Is(err, gateway.ErrResourceNotFound):
		metrics.ObserveContainment(duration, metrics.OutcomeNotFound)
	default:
		var partial *PartialIsolationError
		if errors.As(err, &partial) {
			metrics.ObserveContainment(duration, metrics.OutcomePartial)
		} else {
			metrics.ObserveContainment(duration, metrics.OutcomeError)
		}
	}
	return result, err
}

func (s *ContainmentService) contain(ctx context.Context, finding models.Finding) (ContainmentResult, error) {
	resourceID := s.resolveResourceID(finding.ResourceID)
	result := ContainmentResult{ResourceID: resourceID}

	attachments, err := s.gateway.ListAttachments(ctx, resourceID)
	if err != nil {
		if errors.Is(err, gateway.ErrResourceNotFound) {
			s.logger.Error("resource to contain no longer exists", slog.String("resource_id", resourceID))
			return result, err
		}
		return result, fmt.Errorf("list attachments: %w", err)
	}
	result.Attachments = len(attachments)

	// Snapshot before any mutation. The conditional write makes the snapshot
	// write-once per quarantine episode: a concurrent or repeated finding can
	// never overwrite the pre-incident policies with deny-all.
	original := flattenPolicies(attachments)
	snapshotted, err := s.gateway.CompareAndSwapTag(ctx, resourceID, s.cfg.Tags.PoliciesKey, "", strings.Join(original, ","))
	if err != nil {
		return result, fmt.Errorf("snapshot original policies: %w", err)
	}
	result.Snapshotted = snapshotted
	if !snapshotted {
		s.logger.Info("original policies already recorded, keeping existing snapshot",
			slog.String("resource_id", resourceID))
	}

	var unmodified []string
	for _, att := range attachments {
		if err := s.gateway.ReplacePolicies(ctx, att.AttachmentID, []string{s.cfg.DenyAllPolicyID}); err != nil {
			s.logger.Error("failed to isolate attachment",
				slog.String("resource_id", resourceID),
				slog.String("attachment_id", att.AttachmentID),
				slog.Any("error", err),
			)
			unmodified = append(unmodified, att.AttachmentID)
		}
	}

	// Tag Quarantined even when isolation was incomplete: the resource must
	// never read as safe while any attachment is exposed.
	statusTags := map[string]string{
		s.cfg.Tags.StatusKey:        s.cfg.Tags.QuarantinedValue,
		s.cfg.Tags.QuarantinedAtKey: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.gateway.SetTags(ctx, resourceID, statusTags); err != nil {
		return result, fmt.Errorf("tag resource quarantined: %w", err)
	}

	if len(unmodified) > 0 {
		partialErr := &PartialIsolationError{ResourceID: resourceID, Unmodified: unmodified}
		s.publish(ctx, models.Notification{
			ID:           uuid.New().String(),
			Kind:         models.NotifyQuarantine,
			ResourceID:   resourceID,
			FindingTitle: finding.FindingTitle,
			Subject:      "[containment] resource partially isolated",
			Message: fmt.Sprintf("Resource %s is tagged Quarantined but %d attachment(s) could not be isolated: %s. Manual intervention required.",
				resourceID, len(unmodified), strings.Join(unmodified, ", ")),
			CreatedAt: s.now().UTC(),
		})
		return result, partialErr
	}

	issueFinding := finding
	issueFinding.ResourceID = resourceID
	tok, reference, err := s.issuer.Issue(ctx, issueFinding)
	if err != nil {
		return result, fmt.Errorf("issue approval token: %w", err)
	}
	result.TokenID = tok.TokenID
	result.ApprovalReference = reference

	notification := models.Notification{
		ID:                uuid.New().String(),
		Kind:              models.NotifyQuarantine,
		ResourceID:        resourceID,
		FindingTitle:      finding.FindingTitle,
		ApprovalReference: reference,
		Subject:           "[containment] resource quarantined",
		Message: fmt.Sprintf("Resource %s quarantined.\nFinding: %s\n\nAction:\nApprove restore (opens confirmation page):\n%s",
			resourceID, finding.FindingTitle, reference),
		CreatedAt: s.now().UTC(),
	}
	if err := s.notifier.Publish(ctx, notification); err != nil {
		return result, fmt.Errorf("publish quarantine notification: %w", err)
	}

	s.logger.Info("resource quarantined",
		slog.String("resource_id", resourceID),
		slog.String("finding_id", finding.FindingID),
		slog.Int("attachments", len(attachments)),
		slog.Bool("snapshotted", snapshotted),
		slog.String("token_id", tok.TokenID),
	)
	return result, nil
}

// resolveResourceID swaps synthetic sample IDs for the configured test
// resource so sample findings can be exercised end to end.
func (s *ContainmentService) resolveResourceID(resourceID string) string {
	if s.samplePattern == nil || s.cfg.SampleResourceID == "" {
		return resourceID
	}
	if s.samplePattern.MatchString(resourceID) {
		s.logger.Warn("sample finding detected, swapping resource id",
			slog.String("sample_id", resourceID),
			slog.String("resource_id", s.cfg.SampleResourceID),
		)
		return s.cfg.SampleResourceID
	}
	return resourceID
}

// publish sends an alert without letting a channel failure mask the error
// that prompted it.
func (s *ContainmentService) publish(ctx context.Context, n models.Notification) {
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.Error("failed to publish notification",
			slog.String("kind", string(n.Kind)),
			slog.String("resource_id", n.ResourceID),
			slog.Any("error", err),
		)
	}
}

// flattenPolicies concatenates the attachments' policy sets in attachment
// order, preserving the order within each attachment.
func flattenPolicies(attachments []models.Attachment) []string {
	var out []string
	for _, att := range attachments {
		out = append(out, att.PolicyIDs...)
	}
	return out
}
