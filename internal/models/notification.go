package models

import "time"

// NotificationKind partitions the messages sent to the operator channel.
type NotificationKind string

const (
	NotifyQuarantine     NotificationKind = "quarantine"
	NotifyRestored       NotificationKind = "restored"
	NotifyRestoreSkipped NotificationKind = "restore_skipped"
	NotifyRestoreFailed  NotificationKind = "restore_failed"
	NotifySecurityEvent  NotificationKind = "security_event"
)

// Notification is a write-once, fire-and-forget message to the external
// operator channel. ApprovalReference is only set for quarantine messages and
// embeds the token ID and signature.
type Notification struct {
	ID                string           `json:"id"`
	Kind              NotificationKind `json:"kind"`
	ResourceID        string           `json:"resourceId"`
	FindingTitle      string           `json:"findingTitle"`
	ApprovalReference string           `json:"approvalReference,omitempty"`
	Subject           string           `json:"subject"`
	Message           string           `json:"message"`
	CreatedAt         time.Time        `json:"createdAt"`
}
