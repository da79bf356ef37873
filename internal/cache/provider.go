package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the key/value operations the token store needs. SetNX is
// the atomic conditional write used for single-use claims.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrKeyNotFound signals that a key is absent or already expired.
var ErrKeyNotFound = errors.New("key not found")
