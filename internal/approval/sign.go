// Package approval implements the issuance and verification of the signed,
// time-limited, single-use tokens that gate restoration of a quarantined
// resource.
package approval

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewTokenID returns a 128-bit random identifier, hex encoded.
func NewTokenID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Sign computes HMAC-SHA256(secret, resourceId|findingId|tokenId), hex
// encoded. The signature binds a token to the exact resource and finding it
// was issued for, preventing tampering and cross-resource replay.
func Sign(secret []byte, resourceID, findingID, tokenID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(resourceID))
	mac.Write([]byte("|"))
	mac.Write([]byte(findingID))
	mac.Write([]byte("|"))
	mac.Write([]byte(tokenID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the presented signature matches the
// expected HMAC, comparing in constant time.
func VerifySignature(secret []byte, resourceID, findingID, tokenID, signature string) bool {
	expected := Sign(secret, resourceID, findingID, tokenID)
	if len(expected) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
