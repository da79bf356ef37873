package models

import "time"

// ApprovalToken is a single-use, time-limited credential authorizing the
// restoration of one quarantined resource. The signature binds the token to
// the resource and finding it was issued for.
type ApprovalToken struct {
	TokenID      string    `json:"tokenId"`
	ResourceID   string    `json:"resourceId"`
	FindingID    string    `json:"findingId"`
	FindingTitle string    `json:"findingTitle"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Used         bool      `json:"used"`
	Signature    string    `json:"signature"`
}

// Expired reports whether the token is past its expiry at the given instant.
// Callers must not rely solely on store-side TTL eviction.
func (t ApprovalToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Authorization is the opaque credential produced by a successful token
// verification and consumed only by the restoration handler.
type Authorization struct {
	ResourceID string
	FindingID  string
}
