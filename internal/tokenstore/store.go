// Package tokenstore persists approval tokens with a TTL and provides the
// atomic single-use claim that makes restoration approvals race-free.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudfence/containment-engine/internal/cache"
	"github.com/cloudfence/containment-engine/internal/models"
)

// ErrTokenNotFound signals that a token record is absent, which callers must
// treat identically to an expired record the store has already purged.
var ErrTokenNotFound = errors.New("token not found")

const (
	recordPrefix = "incident:token:"
	claimPrefix  = "incident:claim:"
	activePrefix = "incident:active:"
)

// Store keeps approval token records in a key/value provider. Records live
// until expiry plus a retention grace so terminal outcomes stay inspectable
// for audit before natural TTL eviction.
type Store struct {
	kv    cache.Provider
	grace time.Duration
	now   func() time.Time
}

// New creates a Store on top of the given provider. grace extends record
// retention past token expiry; zero uses a 24 hour default.
func New(kv cache.Provider, grace time.Duration) *Store {
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	return &Store{kv: kv, grace: grace, now: time.Now}
}

// Put persists a token record. Any previous active token for the same
// resource is superseded: its record and claim marker are removed so an
// operator click on a stale reference cannot race a fresh one.
func (s *Store) Put(ctx context.Context, tok models.ApprovalToken) error {
	if tok.TokenID == "" {
		return errors.New("token id is required")
	}

	if prev, err := s.activeTokenID(ctx, tok.ResourceID); err == nil && prev != "" && prev != tok.TokenID {
		if err := s.kv.Del(ctx, recordPrefix+prev); err != nil {
			return fmt.Errorf("supersede token %s: %w", prev, err)
		}
		_ = s.kv.Del(ctx, claimPrefix+prev)
	}

	payload, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	ttl := s.retentionTTL(tok)
	if err := s.kv.Set(ctx, recordPrefix+tok.TokenID, payload, ttl); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := s.kv.Set(ctx, activePrefix+tok.ResourceID, []byte(tok.TokenID), ttl); err != nil {
		return fmt.Errorf("store active token index: %w", err)
	}
	return nil
}

// Get returns the token record for tokenID. The claim marker is merged into
// Used so a claim that won the race is visible even if the record rewrite
// behind it was lost.
func (s *Store) Get(ctx context.Context, tokenID string) (models.ApprovalToken, error) {
	payload, err := s.kv.Get(ctx, recordPrefix+tokenID)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return models.ApprovalToken{}, ErrTokenNotFound
		}
		return models.ApprovalToken{}, fmt.Errorf("load token: %w", err)
	}

	var tok models.ApprovalToken
	if err := json.Unmarshal(payload, &tok); err != nil {
		return models.ApprovalToken{}, fmt.Errorf("decode token: %w", err)
	}

	if !tok.Used {
		if _, err := s.kv.Get(ctx, claimPrefix+tokenID); err == nil {
			tok.Used = true
		}
	}
	return tok, nil
}

// Claim atomically marks the token as used. Exactly one caller per token ever
// sees true; every later caller sees false. This is the single-use
// enforcement point for the approval protocol.
func (s *Store) Claim(ctx context.Context, tokenID string) (bool, error) {
	tok, err := s.Get(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if tok.Used {
		return false, nil
	}

	won, err := s.kv.SetNX(ctx, claimPrefix+tokenID, []byte("1"), s.retentionTTL(tok))
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	if !won {
		return false, nil
	}

	// Best effort: fold the claim into the record for audit readers. The
	// claim marker above remains authoritative.
	tok.Used = true
	if payload, err := json.Marshal(tok); err == nil {
		_ = s.kv.Set(ctx, recordPrefix+tokenID, payload, s.retentionTTL(tok))
	}
	return true, nil
}

// activeTokenID returns the token currently associated with the resource.
func (s *Store) activeTokenID(ctx context.Context, resourceID string) (string, error) {
	payload, err := s.kv.Get(ctx, activePrefix+resourceID)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(payload), nil
}

func (s *Store) retentionTTL(tok models.ApprovalToken) time.Duration {
	ttl := tok.ExpiresAt.Sub(s.now()) + s.grace
	if ttl <= 0 {
		ttl = s.grace
	}
	return ttl
}
