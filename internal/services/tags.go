package services

import "github.com/cloudfence/containment-engine/internal/models"

// TagScheme names the resource metadata keys and values carrying containment
// state. The defaults match the tag names operators already know from the
// incident-response runbooks.
type TagScheme struct {
	StatusKey        string
	PoliciesKey      string
	QuarantinedAtKey string
	RemediationKey   string
	QuarantinedValue string
	HealthyValue     string
}

// DefaultTagScheme returns the standard tag naming.
func DefaultTagScheme() TagScheme {
	return TagScheme{
		StatusKey:        "IncidentStatus",
		PoliciesKey:      "OriginalPolicies",
		QuarantinedAtKey: "QuarantinedAt",
		RemediationKey:   "RemediationRequired",
		QuarantinedValue: string(models.StatusQuarantined),
		HealthyValue:     string(models.StatusHealthy),
	}
}

func (t *TagScheme) applyDefaults() {
	def := DefaultTagScheme()
	if t.StatusKey == "" {
		t.StatusKey = def.StatusKey
	}
	if t.PoliciesKey == "" {
		t.PoliciesKey = def.PoliciesKey
	}
	if t.QuarantinedAtKey == "" {
		t.QuarantinedAtKey = def.QuarantinedAtKey
	}
	if t.RemediationKey == "" {
		t.RemediationKey = def.RemediationKey
	}
	if t.QuarantinedValue == "" {
		t.QuarantinedValue = def.QuarantinedValue
	}
	if t.HealthyValue == "" {
		t.HealthyValue = def.HealthyValue
	}
}
