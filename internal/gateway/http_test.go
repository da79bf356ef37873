package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestClient(fn roundTripFunc) *ControlPlaneClient {
	c := NewControlPlaneClient("http://control-plane.local", "test-key", time.Second, 3)
	c.httpClient = &http.Client{Transport: fn}
	c.retryBase = time.Millisecond
	return c
}

func jsonResponse(status int, payload any) *http.Response {
	body, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestListAttachments(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		return jsonResponse(http.StatusOK, map[string]any{
			"attachments": []map[string]any{
				{"attachmentId": "att-1", "policyIds": []string{"pol-a", "pol-b"}},
			},
		}), nil
	})

	attachments, err := client.ListAttachments(context.Background(), "i-123")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotPath != "/v1/resources/i-123/attachments" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if len(attachments) != 1 || attachments[0].AttachmentID != "att-1" || len(attachments[0].PolicyIDs) != 2 {
		t.Fatalf("unexpected attachments: %+v", attachments)
	}
}

func TestNotFoundIsPermanent(t *testing.T) {
	calls := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "no such resource"}), nil
	})

	_, err := client.ListAttachments(context.Background(), "i-missing")
	if !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls)
	}
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	calls := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return jsonResponse(http.StatusInternalServerError, map[string]string{"error": "boom"}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{"tags": map[string]string{"IncidentStatus": "Quarantined"}}), nil
	})

	tags, err := client.Tags(context.Background(), "i-123")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if tags["IncidentStatus"] != "Quarantined" {
		t.Fatalf("unexpected tags: %v", tags)
	}
}

func TestExhaustedRetriesSurfaceTransientError(t *testing.T) {
	calls := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusServiceUnavailable, nil), nil
	})

	err := client.ReplacePolicies(context.Background(), "att-1", []string{"deny-all"})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestCompareAndSwapTag(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		return jsonResponse(http.StatusOK, map[string]bool{"swapped": true}), nil
	})

	swapped, err := client.CompareAndSwapTag(context.Background(), "i-123", "OriginalPolicies", "", "pol-a,pol-b")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !swapped {
		t.Fatal("expected swapped=true")
	}
	if gotBody["key"] != "OriginalPolicies" || gotBody["expect"] != "" || gotBody["value"] != "pol-a,pol-b" {
		t.Fatalf("unexpected request body: %v", gotBody)
	}
}
