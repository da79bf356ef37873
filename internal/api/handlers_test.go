package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudfence/containment-engine/internal/approval"
	"github.com/cloudfence/containment-engine/internal/cache"
	"github.com/cloudfence/containment-engine/internal/config"
	"github.com/cloudfence/containment-engine/internal/gateway"
	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/notify"
	"github.com/cloudfence/containment-engine/internal/secrets"
	"github.com/cloudfence/containment-engine/internal/services"
	"github.com/cloudfence/containment-engine/internal/tokenstore"
)

const testSecretName = "containment/approval-secret"

type apiFixture struct {
	ts       *httptest.Server
	gateway  *gateway.MemoryGateway
	notifier *notify.Recorder
	issuer   *approval.Issuer
	verifier *approval.Verifier
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	gw := gateway.NewMemoryGateway()
	recorder := &notify.Recorder{}
	store := tokenstore.New(cache.NewMemoryProvider(), time.Hour)
	provider := secrets.Static{testSecretName: []byte("unit-test-key")}
	issuer := approval.NewIssuer(nil, store, provider, testSecretName, 30*time.Minute, "http://containment.local")
	verifier := approval.NewVerifier(nil, store, provider, testSecretName)

	containment, err := services.NewContainmentService(nil, gw, issuer, recorder, services.ContainmentConfig{
		DenyAllPolicyID: "deny-all",
	})
	require.NoError(t, err)
	restoration := services.NewRestorationService(nil, gw, recorder, services.TagScheme{})

	server := NewServer(config.ServerConfig{Address: ":0"}, nil, containment, verifier, restoration, recorder)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{ts: ts, gateway: gw, notifier: recorder, issuer: issuer, verifier: verifier}
}

func (fx *apiFixture) postFinding(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(fx.ts.URL+"/api/v1/findings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

// approvalQuery pulls the approval link parameters out of the quarantine
// notification, the same way an operator receives them.
func (fx *apiFixture) approvalQuery(t *testing.T) url.Values {
	t.Helper()
	sent := fx.notifier.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	require.NotEmpty(t, last.ApprovalReference)
	parsed, err := url.Parse(last.ApprovalReference)
	require.NoError(t, err)
	return parsed.Query()
}

func (fx *apiFixture) approve(t *testing.T, q url.Values) *http.Response {
	t.Helper()
	resp, err := http.Get(fx.ts.URL + "/approve?" + q.Encode())
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

const flatFinding = `{
	"resourceId": "i-0abc123",
	"findingId": "finding-42",
	"findingTitle": "CryptoCurrency mining activity",
	"severity": "HIGH"
}`

func TestFindingIntakeQuarantines(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a"}})

	resp := fx.postFinding(t, flatFinding)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var payload struct {
		Status     string `json:"status"`
		ResourceID string `json:"resourceId"`
		TokenID    string `json:"tokenId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, "quarantined", payload.Status)
	require.Equal(t, "i-0abc123", payload.ResourceID)
	require.NotEmpty(t, payload.TokenID)
}

func TestFindingIntakeEnvelope(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a"}})

	resp := fx.postFinding(t, `{
		"detail": {"findings": [{
			"id": "finding-42",
			"title": "Backdoor:EC2/DenialOfService",
			"severity": 8,
			"resource": {"instanceDetails": {"instanceId": "i-0abc123"}}
		}]}
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

func TestFindingIntakeRejectsBadPayload(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.postFinding(t, `{"findingId": "finding-42"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestFindingIntakeUnknownResource(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.postFinding(t, flatFinding)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestApproveFlowRestoresResource(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a", "pol-b"}})

	resp := fx.postFinding(t, flatFinding)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	q := fx.approvalQuery(t)

	// First click: confirmation page, nothing restored yet.
	resp = fx.approve(t, q)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	require.Contains(t, body, "Approve restore")
	require.Contains(t, body, "confirm=1")

	attachments, err := fx.gateway.ListAttachments(context.Background(), "i-0abc123")
	require.NoError(t, err)
	require.Equal(t, []string{"deny-all"}, attachments[0].PolicyIDs)

	// Confirmed click: restoration runs.
	q.Set("confirm", "1")
	resp = fx.approve(t, q)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, readBody(t, resp), "Restore complete")

	attachments, err = fx.gateway.ListAttachments(context.Background(), "i-0abc123")
	require.NoError(t, err)
	require.Equal(t, []string{"pol-a", "pol-b"}, attachments[0].PolicyIDs)

	tags, err := fx.gateway.Tags(context.Background(), "i-0abc123")
	require.NoError(t, err)
	require.Equal(t, string(models.StatusHealthy), tags["IncidentStatus"])
}

func TestApproveReplayRejected(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a"}})

	resp := fx.postFinding(t, flatFinding)
	resp.Body.Close()

	q := fx.approvalQuery(t)
	q.Set("confirm", "1")

	resp = fx.approve(t, q)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = fx.approve(t, q)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, readBody(t, resp), "already used")
}

func TestApproveForgedSignature(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a"}})

	resp := fx.postFinding(t, flatFinding)
	resp.Body.Close()

	q := fx.approvalQuery(t)
	q.Set("confirm", "1")
	q.Set("sig", approval.Sign([]byte("attacker-key"), "i-0abc123", "finding-42", q.Get("token")))

	resp = fx.approve(t, q)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	sent := fx.notifier.Sent()
	require.Equal(t, models.NotifySecurityEvent, sent[len(sent)-1].Kind)

	// The resource stays quarantined.
	attachments, err := fx.gateway.ListAttachments(context.Background(), "i-0abc123")
	require.NoError(t, err)
	require.Equal(t, []string{"deny-all"}, attachments[0].PolicyIDs)
}

func TestApproveExpiredToken(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a"}})
	fx.issuer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })

	resp := fx.postFinding(t, flatFinding)
	resp.Body.Close()

	q := fx.approvalQuery(t)
	q.Set("confirm", "1")

	resp = fx.approve(t, q)
	require.Equal(t, http.StatusGone, resp.StatusCode)
	require.Contains(t, readBody(t, resp), "expired")
}

func TestApproveUnknownToken(t *testing.T) {
	fx := newAPIFixture(t)

	q := url.Values{}
	q.Set("resourceId", "i-0abc123")
	q.Set("findingId", "finding-42")
	q.Set("token", "deadbeefdeadbeefdeadbeefdeadbeef")
	q.Set("sig", strings.Repeat("0", 64))
	q.Set("confirm", "1")

	resp := fx.approve(t, q)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestApproveMissingParameters(t *testing.T) {
	fx := newAPIFixture(t)

	resp, err := http.Get(fx.ts.URL + "/approve")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestResourceStatusEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gateway.AddResource("i-0abc123", models.Attachment{AttachmentID: "att-1", PolicyIDs: []string{"pol-a"}})

	resp := fx.postFinding(t, flatFinding)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(fx.ts.URL + "/api/v1/resources/i-0abc123")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res models.CompromisedResource
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	require.Equal(t, models.StatusQuarantined, res.Status)
	require.Equal(t, []string{"pol-a"}, res.OriginalPolicyIDs)

	resp, err = http.Get(fx.ts.URL + "/api/v1/resources/i-missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	fx := newAPIFixture(t)

	resp, err := http.Get(fx.ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
