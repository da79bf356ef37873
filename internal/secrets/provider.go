// Package secrets exposes the HMAC signing key used by the approval token
// protocol. Keys are fetched fresh per operation so rotation at the parameter
// store takes effect immediately.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// Provider returns the current signing key bytes for a named secret.
type Provider interface {
	SigningKey(ctx context.Context, name string) ([]byte, error)
}

// Static is an in-memory Provider for tests and development.
type Static map[string][]byte

// SigningKey returns the configured key bytes for name.
func (s Static) SigningKey(_ context.Context, name string) ([]byte, error) {
	key, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("signing key %q not configured", name)
	}
	if len(key) == 0 {
		return nil, errors.New("signing key is empty")
	}
	return key, nil
}
