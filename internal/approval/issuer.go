package approval

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/secrets"
	"github.com/cloudfence/containment-engine/internal/tokenstore"
)

// Issuer mints approval tokens for quarantined resources. The signing key is
// fetched from the secret provider at issue time, never cached, so rotation
// takes effect immediately.
type Issuer struct {
	logger     *slog.Logger
	store      *tokenstore.Store
	secrets    secrets.Provider
	secretName string
	ttl        time.Duration
	baseURL    string
	now        func() time.Time
}

// NewIssuer constructs an Issuer. baseURL is the externally reachable root of
// the approval endpoint embedded in operator notifications.
func NewIssuer(logger *slog.Logger, store *tokenstore.Store, secretProvider secrets.Provider, secretName string, ttl time.Duration, baseURL string) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &Issuer{
		logger:     logger,
		store:      store,
		secrets:    secretProvider,
		secretName: secretName,
		ttl:        ttl,
		baseURL:    baseURL,
		now:        time.Now,
	}
}

// WithClock overrides the issuer's time source. Intended for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue creates, signs, and persists a fresh approval token for the finding,
// superseding any earlier active token for the same resource. It returns the
// token together with the approval reference URL for the notification.
func (i *Issuer) Issue(ctx context.Context, finding models.Finding) (models.ApprovalToken, string, error) {
	tokenID, err := NewTokenID()
	if err != nil {
		return models.ApprovalToken{}, "", err
	}

	secret, err := i.secrets.SigningKey(ctx, i.secretName)
	if err != nil {
		return models.ApprovalToken{}, "", fmt.Errorf("fetch signing key: %w", err)
	}

	now := i.now().UTC()
	tok := models.ApprovalToken{
		TokenID:      tokenID,
		ResourceID:   finding.ResourceID,
		FindingID:    finding.FindingID,
		FindingTitle: finding.FindingTitle,
		CreatedAt:    now,
		ExpiresAt:    now.Add(i.ttl),
		Signature:    Sign(secret, finding.ResourceID, finding.FindingID, tokenID),
	}

	if err := i.store.Put(ctx, tok); err != nil {
		return models.ApprovalToken{}, "", fmt.Errorf("persist token: %w", err)
	}

	i.logger.Info("approval token issued",
		slog.String("resource_id", tok.ResourceID),
		slog.String("finding_id", tok.FindingID),
		slog.String("token_id", tok.TokenID),
		slog.Time("expires_at", tok.ExpiresAt),
	)

	return tok, i.Reference(tok), nil
}

// Reference builds the approval URL delivered to the operator. It embeds the
// token ID and signature along with human-readable context.
func (i *Issuer) Reference(tok models.ApprovalToken) string {
	values := url.Values{}
	values.Set("resourceId", tok.ResourceID)
	values.Set("findingId", tok.FindingID)
	if tok.FindingTitle != "" {
		values.Set("findingTitle", tok.FindingTitle)
	}
	values.Set("token", tok.TokenID)
	values.Set("sig", tok.Signature)
	return fmt.Sprintf("%s/approve?%s", i.baseURL, values.Encode())
}
