package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSnapshotMissing signals that a quarantined resource carries no recorded
// original policies; restoration is skipped and the operator alerted.
var ErrSnapshotMissing = errors.New("original policy snapshot missing")

// PartialIsolationError reports that some attachments could not be switched
// to the deny-all policy. The resource is still tagged Quarantined so a human
// is never told "safe" while exposed.
type PartialIsolationError struct {
	ResourceID string
	Unmodified []string
}

func (e *PartialIsolationError) Error() string {
	return fmt.Sprintf("resource %s partially isolated, attachments not modified: %s",
		e.ResourceID, strings.Join(e.Unmodified, ", "))
}

// PartialRestorationError reports that some attachments could not be restored
// to their original policies. The resource stays Quarantined and is flagged
// for manual remediation.
type PartialRestorationError struct {
	ResourceID string
	Unrestored []string
}

func (e *PartialRestorationError) Error() string {
	return fmt.Sprintf("resource %s partially restored, attachments not restored: %s",
		e.ResourceID, strings.Join(e.Unrestored, ", "))
}
