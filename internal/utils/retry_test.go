package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	if got := Backoff(0, base); got != 100*time.Millisecond {
		t.Fatalf("attempt 0: got %v", got)
	}
	if got := Backoff(1, base); got != 200*time.Millisecond {
		t.Fatalf("attempt 1: got %v", got)
	}
	if got := Backoff(10, base); got != 2*time.Second {
		t.Fatalf("expected cap at 2s, got %v", got)
	}
	if got := Backoff(0, 0); got != 100*time.Millisecond {
		t.Fatalf("expected default base, got %v", got)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("transient")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() (bool, error) {
		calls++
		return true, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() (bool, error) {
		calls++
		return false, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Millisecond, func() (bool, error) {
		t.Fatal("fn must not run with a cancelled context")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
