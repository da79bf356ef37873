package models

import "time"

// ResourceStatus is the containment state recorded as metadata on the
// resource itself so it survives handler restarts.
type ResourceStatus string

const (
	StatusHealthy     ResourceStatus = "Healthy"
	StatusQuarantined ResourceStatus = "Quarantined"
)

// Attachment is a network interface of a compute resource, carrying its own
// ordered policy set.
type Attachment struct {
	AttachmentID string   `json:"attachmentId"`
	PolicyIDs    []string `json:"policyIds"`
}

// CompromisedResource describes the containment view of a resource. The
// original policy IDs are written exactly once per quarantine episode and
// cleared only by a successful restoration.
type CompromisedResource struct {
	ResourceID        string         `json:"resourceId"`
	Status            ResourceStatus `json:"status"`
	OriginalPolicyIDs []string       `json:"originalPolicyIds"`
	QuarantinedAt     time.Time      `json:"quarantinedAt"`
}
