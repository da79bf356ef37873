package models

import "time"

// Severity classifies how serious the detection engine considers a finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Finding is an externally produced report that a compute resource is
// suspected compromised. Findings are immutable and consumed once by the
// containment handler.
type Finding struct {
	ResourceID   string    `json:"resourceId"`
	FindingID    string    `json:"findingId"`
	FindingTitle string    `json:"findingTitle"`
	Severity     Severity  `json:"severity"`
	DetectedAt   time.Time `json:"detectedAt"`
}
