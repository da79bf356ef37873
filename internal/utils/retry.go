package utils

import (
	"context"
	"time"
)

// Backoff returns the delay before the given retry attempt: base doubled per
// attempt, capped at two seconds.
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << attempt
	if delay > 2*time.Second {
		delay = 2 * time.Second
	}
	return delay
}

// Retry runs fn up to attempts times, sleeping with exponential backoff
// between failures. It stops early when fn succeeds, when fn reports the
// failure as permanent, or when the context is cancelled.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() (permanent bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		permanent, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent || attempt == attempts-1 {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt, base)):
		}
	}
	return lastErr
}
