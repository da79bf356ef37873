package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/utils"
)

// Intake accepts two shapes: a flat Finding document, and the event-router
// envelope that nests findings under detail.findings with the detection
// engine's own field casing.

type rawEnvelope struct {
	Detail *rawDetail `json:"detail"`

	// Flat finding fields.
	ResourceID   string `json:"resourceId"`
	FindingID    string `json:"findingId"`
	FindingTitle string `json:"findingTitle"`
	Severity     string `json:"severity"`
	DetectedAt   string `json:"detectedAt"`
}

type rawDetail struct {
	Findings []rawFinding `json:"findings"`
}

type rawFinding struct {
	ID        string  `json:"id"`
	IDUpper   string  `json:"Id"`
	Title     string  `json:"title"`
	TitleUp   string  `json:"Title"`
	Severity  float64 `json:"severity"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"UpdatedAt"`
	Resource  struct {
		InstanceDetails struct {
			InstanceID string `json:"instanceId"`
		} `json:"instanceDetails"`
	} `json:"resource"`
	ResourceUp struct {
		InstanceDetails struct {
			InstanceID string `json:"InstanceId"`
		} `json:"InstanceDetails"`
	} `json:"Resource"`
}

// ParseFinding normalises an intake payload into a Finding. Envelope payloads
// contribute only their first finding; the event router delivers one per event.
func ParseFinding(body []byte) (models.Finding, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Finding{}, fmt.Errorf("decode finding payload: %w", err)
	}

	if raw.Detail != nil {
		if len(raw.Detail.Findings) == 0 {
			return models.Finding{}, errors.New("envelope has no findings")
		}
		return normalizeRaw(raw.Detail.Findings[0])
	}

	f := models.Finding{
		ResourceID:   strings.TrimSpace(raw.ResourceID),
		FindingID:    strings.TrimSpace(raw.FindingID),
		FindingTitle: raw.FindingTitle,
		Severity:     models.Severity(strings.ToUpper(raw.Severity)),
	}
	if raw.DetectedAt != "" {
		ts, err := utils.ParseRFC3339(raw.DetectedAt)
		if err != nil {
			return models.Finding{}, fmt.Errorf("parse detectedAt: %w", err)
		}
		f.DetectedAt = ts
	}
	return validated(f)
}

func normalizeRaw(rf rawFinding) (models.Finding, error) {
	f := models.Finding{
		ResourceID:   firstNonEmpty(rf.Resource.InstanceDetails.InstanceID, rf.ResourceUp.InstanceDetails.InstanceID),
		FindingID:    firstNonEmpty(rf.ID, rf.IDUpper),
		FindingTitle: firstNonEmpty(rf.Title, rf.TitleUp),
		Severity:     severityFromScore(rf.Severity),
	}
	if ts := firstNonEmpty(rf.UpdatedAt, rf.CreatedAt); ts != "" {
		parsed, err := utils.ParseRFC3339(ts)
		if err == nil {
			f.DetectedAt = parsed
		}
	}
	return validated(f)
}

func validated(f models.Finding) (models.Finding, error) {
	if f.ResourceID == "" {
		return models.Finding{}, errors.New("finding is missing a resource id")
	}
	if f.FindingID == "" {
		return models.Finding{}, errors.New("finding is missing a finding id")
	}
	if f.FindingTitle == "" {
		f.FindingTitle = f.FindingID
	}
	return f, nil
}

// severityFromScore maps the detection engine's 0-10 numeric scale.
func severityFromScore(score float64) models.Severity {
	switch {
	case score >= 8:
		return models.SeverityCritical
	case score >= 7:
		return models.SeverityHigh
	case score >= 4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
