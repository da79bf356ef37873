package approval

import (
	"encoding/hex"
	"testing"
)

func TestSignDeterministic(t *testing.T) {
	secret := []byte("test-secret")
	a := Sign(secret, "i-123", "finding-1", "token-1")
	b := Sign(secret, "i-123", "finding-1", "token-1")
	if a != b {
		t.Fatalf("signature not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestSignBindsEveryField(t *testing.T) {
	secret := []byte("test-secret")
	base := Sign(secret, "i-123", "finding-1", "token-1")

	variants := []string{
		Sign(secret, "i-456", "finding-1", "token-1"),
		Sign(secret, "i-123", "finding-2", "token-1"),
		Sign(secret, "i-123", "finding-1", "token-2"),
		Sign([]byte("other-secret"), "i-123", "finding-1", "token-1"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d produced the same signature", i)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("test-secret")
	sig := Sign(secret, "i-123", "finding-1", "token-1")

	if !VerifySignature(secret, "i-123", "finding-1", "token-1", sig) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifySignature(secret, "i-123", "finding-1", "token-1", sig[:63]+"0") {
		t.Fatal("expected tampered signature to fail")
	}
	if VerifySignature([]byte("other"), "i-123", "finding-1", "token-1", sig) {
		t.Fatal("expected wrong secret to fail")
	}
	if VerifySignature(secret, "i-123", "finding-1", "token-1", "short") {
		t.Fatal("expected truncated signature to fail")
	}
}

func TestNewTokenID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewTokenID()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(id) != 32 {
			t.Fatalf("expected 32 hex chars, got %d", len(id))
		}
		if _, err := hex.DecodeString(id); err != nil {
			t.Fatalf("token id is not hex: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate token id %s", id)
		}
		seen[id] = true
	}
}
