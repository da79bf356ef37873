package approval

import "errors"

// Verification failures. Absence and store-side expiry are deliberately
// indistinguishable to callers: the store may purge an expired record at any
// time.
var (
	ErrUnknownToken      = errors.New("unknown or expired token")
	ErrExpiredToken      = errors.New("token expired")
	ErrAlreadyUsed       = errors.New("token already used")
	ErrSignatureMismatch = errors.New("signature mismatch")
)
