// Package gateway abstracts the cloud control plane that owns compute
// resources, their network attachments, and their metadata tags. All
// containment state shared between handler invocations lives behind this
// interface, guarded by conditional writes.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudfence/containment-engine/internal/models"
)

// ErrResourceNotFound signals that the resource no longer exists. Callers
// must abort without retrying.
var ErrResourceNotFound = errors.New("resource not found")

// TransientError marks a gateway failure that persisted through bounded
// retries and was surfaced rather than blocking indefinitely.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient gateway failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ResourceGateway lists the network attachments of a compute resource,
// atomically replaces the policy set on an attachment, and manages key/value
// metadata on the resource. CompareAndSwapTag is the conditional write both
// containment guards are built on.
type ResourceGateway interface {
	ListAttachments(ctx context.Context, resourceID string) ([]models.Attachment, error)
	ReplacePolicies(ctx context.Context, attachmentID string, policyIDs []string) error
	Tags(ctx context.Context, resourceID string) (map[string]string, error)
	SetTags(ctx context.Context, resourceID string, tags map[string]string) error
	DeleteTags(ctx context.Context, resourceID string, keys []string) error
	// CompareAndSwapTag writes value under key only when the tag currently
	// holds expect; an empty expect matches an absent tag. It reports whether
	// the swap happened.
	CompareAndSwapTag(ctx context.Context, resourceID, key, expect, value string) (bool, error)
}
