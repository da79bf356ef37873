package gateway

import (
	"context"
	"sync"

	"github.com/cloudfence/containment-engine/internal/models"
)

// MemoryGateway is an in-memory ResourceGateway with full compare-and-swap
// semantics. It enables deterministic tests of the snapshot/restore logic
// without live infrastructure.
type MemoryGateway struct {
	mu          sync.Mutex
	resources   map[string]*memoryResource
	replaceErrs map[string]error
}

type memoryResource struct {
	attachments []models.Attachment
	tags        map[string]string
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		resources:   make(map[string]*memoryResource),
		replaceErrs: make(map[string]error),
	}
}

// AddResource registers a resource with the given attachments.
func (g *MemoryGateway) AddResource(resourceID string, attachments ...models.Attachment) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := &memoryResource{tags: make(map[string]string)}
	for _, att := range attachments {
		res.attachments = append(res.attachments, models.Attachment{
			AttachmentID: att.AttachmentID,
			PolicyIDs:    append([]string(nil), att.PolicyIDs...),
		})
	}
	g.resources[resourceID] = res
}

// FailReplace makes ReplacePolicies fail for one attachment, simulating a
// partial isolation or restoration.
func (g *MemoryGateway) FailReplace(attachmentID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.replaceErrs, attachmentID)
		return
	}
	g.replaceErrs[attachmentID] = err
}

// ListAttachments returns the resource's attachments with their current
// policy sets.
func (g *MemoryGateway) ListAttachments(_ context.Context, resourceID string) ([]models.Attachment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resources[resourceID]
	if !ok {
		return nil, ErrResourceNotFound
	}
	out := make([]models.Attachment, 0, len(res.attachments))
	for _, att := range res.attachments {
		out = append(out, models.Attachment{
			AttachmentID: att.AttachmentID,
			PolicyIDs:    append([]string(nil), att.PolicyIDs...),
		})
	}
	return out, nil
}

// ReplacePolicies atomically replaces the policy set on an attachment.
func (g *MemoryGateway) ReplacePolicies(_ context.Context, attachmentID string, policyIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err, ok := g.replaceErrs[attachmentID]; ok {
		return err
	}
	for _, res := range g.resources {
		for i := range res.attachments {
			if res.attachments[i].AttachmentID == attachmentID {
				res.attachments[i].PolicyIDs = append([]string(nil), policyIDs...)
				return nil
			}
		}
	}
	return ErrResourceNotFound
}

// Tags returns a copy of the resource's metadata.
func (g *MemoryGateway) Tags(_ context.Context, resourceID string) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resources[resourceID]
	if !ok {
		return nil, ErrResourceNotFound
	}
	out := make(map[string]string, len(res.tags))
	for k, v := range res.tags {
		out[k] = v
	}
	return out, nil
}

// SetTags writes the given metadata keys.
func (g *MemoryGateway) SetTags(_ context.Context, resourceID string, tags map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resources[resourceID]
	if !ok {
		return ErrResourceNotFound
	}
	for k, v := range tags {
		res.tags[k] = v
	}
	return nil
}

// DeleteTags removes the given metadata keys.
func (g *MemoryGateway) DeleteTags(_ context.Context, resourceID string, keys []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resources[resourceID]
	if !ok {
		return ErrResourceNotFound
	}
	for _, k := range keys {
		delete(res.tags, k)
	}
	return nil
}

// CompareAndSwapTag conditionally writes a tag; empty expect matches absence.
func (g *MemoryGateway) CompareAndSwapTag(_ context.Context, resourceID, key, expect, value string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resources[resourceID]
	if !ok {
		return false, ErrResourceNotFound
	}
	if res.tags[key] != expect {
		return false, nil
	}
	res.tags[key] = value
	return true, nil
}
