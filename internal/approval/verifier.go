package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudfence/containment-engine/internal/metrics"
	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/secrets"
	"github.com/cloudfence/containment-engine/internal/tokenstore"
)

// Verifier validates a presented token+signature pair and enforces expiry and
// single use. A successful verification yields an Authorization consumed only
// by the restoration handler.
type Verifier struct {
	logger     *slog.Logger
	store      *tokenstore.Store
	secrets    secrets.Provider
	secretName string
	now        func() time.Time
}

// NewVerifier constructs a Verifier sharing the issuer's store and secret.
func NewVerifier(logger *slog.Logger, store *tokenstore.Store, secretProvider secrets.Provider, secretName string) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		logger:     logger,
		store:      store,
		secrets:    secretProvider,
		secretName: secretName,
		now:        time.Now,
	}
}

// WithClock overrides the verifier's time source. Intended for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the presented token against the stored record and the current
// signing key. The HMAC is recomputed from the stored resource and finding
// IDs, never from caller-supplied values; the atomic claim at the end is the
// sole single-use enforcement point.
func (v *Verifier) Verify(ctx context.Context, tokenID, signature, resourceID, findingID string) (models.Authorization, error) {
	tok, err := v.store.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrTokenNotFound) {
			metrics.ObserveVerification(metrics.VerifyUnknownToken)
			return models.Authorization{}, ErrUnknownToken
		}
		metrics.ObserveVerification(metrics.VerifyError)
		return models.Authorization{}, fmt.Errorf("load token: %w", err)
	}

	// The store's TTL eviction lags; expiry is enforced against the clock.
	if tok.Expired(v.now()) {
		metrics.ObserveVerification(metrics.VerifyExpired)
		return models.Authorization{}, ErrExpiredToken
	}

	if tok.Used {
		metrics.ObserveVerification(metrics.VerifyReplayed)
		metrics.RecordSecurityEvent(metrics.EventReplay)
		v.logger.Warn("approval token replay rejected",
			slog.String("token_id", tokenID),
			slog.String("resource_id", tok.ResourceID),
		)
		return models.Authorization{}, ErrAlreadyUsed
	}

	if resourceID != tok.ResourceID || findingID != tok.FindingID {
		return models.Authorization{}, v.rejectSignature(tokenID, tok, "token presented for a different resource or finding")
	}

	secret, err := v.secrets.SigningKey(ctx, v.secretName)
	if err != nil {
		metrics.ObserveVerification(metrics.VerifyError)
		return models.Authorization{}, fmt.Errorf("fetch signing key: %w", err)
	}
	if !VerifySignature(secret, tok.ResourceID, tok.FindingID, tok.TokenID, signature) {
		return models.Authorization{}, v.rejectSignature(tokenID, tok, "HMAC comparison failed")
	}

	claimed, err := v.store.Claim(ctx, tokenID)
	if err != nil {
		metrics.ObserveVerification(metrics.VerifyError)
		return models.Authorization{}, fmt.Errorf("claim token: %w", err)
	}
	if !claimed {
		metrics.ObserveVerification(metrics.VerifyReplayed)
		metrics.RecordSecurityEvent(metrics.EventReplay)
		v.logger.Warn("approval token lost claim race",
			slog.String("token_id", tokenID),
			slog.String("resource_id", tok.ResourceID),
		)
		return models.Authorization{}, ErrAlreadyUsed
	}

	metrics.ObserveVerification(metrics.VerifySuccess)
	v.logger.Info("approval token verified",
		slog.String("token_id", tokenID),
		slog.String("resource_id", tok.ResourceID),
		slog.String("finding_id", tok.FindingID),
	)
	return models.Authorization{ResourceID: tok.ResourceID, FindingID: tok.FindingID}, nil
}

// rejectSignature records a possible tampering attempt. These are never
// silently dropped: they are logged, counted, and surfaced to the caller.
func (v *Verifier) rejectSignature(tokenID string, tok models.ApprovalToken, reason string) error {
	metrics.ObserveVerification(metrics.VerifySignatureMismatch)
	metrics.RecordSecurityEvent(metrics.EventSignatureMismatch)
	v.logger.Warn("approval signature mismatch",
		slog.String("token_id", tokenID),
		slog.String("resource_id", tok.ResourceID),
		slog.String("finding_id", tok.FindingID),
		slog.String("reason", reason),
	)
	return ErrSignatureMismatch
}
