package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudfence/containment-engine/internal/models"
)

func TestParseFlatFinding(t *testing.T) {
	body := []byte(`{
		"resourceId": "i-0abc123",
		"findingId": "finding-42",
		"findingTitle": "CryptoCurrency mining activity",
		"severity": "high",
		"detectedAt": "2026-08-25T10:30:00Z"
	}`)

	f, err := ParseFinding(body)
	require.NoError(t, err)
	require.Equal(t, "i-0abc123", f.ResourceID)
	require.Equal(t, "finding-42", f.FindingID)
	require.Equal(t, models.SeverityHigh, f.Severity)
	require.Equal(t, 2026, f.DetectedAt.Year())
}

func TestParseEnvelopeFinding(t *testing.T) {
	body := []byte(`{
		"detail": {
			"findings": [{
				"id": "finding-42",
				"title": "Backdoor:EC2/DenialOfService",
				"severity": 8.5,
				"updatedAt": "2026-08-25T10:30:00Z",
				"resource": {
					"instanceDetails": {"instanceId": "i-0abc123"}
				}
			}]
		}
	}`)

	f, err := ParseFinding(body)
	require.NoError(t, err)
	require.Equal(t, "i-0abc123", f.ResourceID)
	require.Equal(t, "finding-42", f.FindingID)
	require.Equal(t, "Backdoor:EC2/DenialOfService", f.FindingTitle)
	require.Equal(t, models.SeverityCritical, f.Severity)
}

func TestParseEnvelopeUppercaseCasing(t *testing.T) {
	body := []byte(`{
		"detail": {
			"findings": [{
				"Id": "finding-42",
				"Title": "UnauthorizedAccess",
				"severity": 5,
				"Resource": {
					"InstanceDetails": {"InstanceId": "i-0abc123"}
				}
			}]
		}
	}`)

	f, err := ParseFinding(body)
	require.NoError(t, err)
	require.Equal(t, "i-0abc123", f.ResourceID)
	require.Equal(t, "finding-42", f.FindingID)
	require.Equal(t, models.SeverityMedium, f.Severity)
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"no resource":    `{"findingId": "finding-42"}`,
		"no finding":     `{"resourceId": "i-0abc123"}`,
		"empty envelope": `{"detail": {"findings": []}}`,
		"not json":       `not json at all`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFinding([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestParseDefaultsTitleToFindingID(t *testing.T) {
	f, err := ParseFinding([]byte(`{"resourceId": "i-0abc123", "findingId": "finding-42"}`))
	require.NoError(t, err)
	require.Equal(t, "finding-42", f.FindingTitle)
}

func TestSeverityFromScore(t *testing.T) {
	require.Equal(t, models.SeverityLow, severityFromScore(2))
	require.Equal(t, models.SeverityMedium, severityFromScore(4))
	require.Equal(t, models.SeverityHigh, severityFromScore(7))
	require.Equal(t, models.SeverityCritical, severityFromScore(8.9))
}
