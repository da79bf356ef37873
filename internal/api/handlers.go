package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudfence/containment-engine/internal/approval"
	"github.com/cloudfence/containment-engine/internal/gateway"
	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/services"
)

const maxFindingBody = 1 << 20

// handleFinding ingests a finding webhook and runs the containment handler.
func (s *Server) handleFinding(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFindingBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "read request body")
		return
	}

	finding, err := ParseFinding(body)
	if err != nil {
		s.logger.Warn("rejected malformed finding", slog.Any("error", err))
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.containment.Contain(r.Context(), finding)
	if err != nil {
		var partial *services.PartialIsolationError
		switch {
		case errors.Is(err, gateway.ErrResourceNotFound):
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("resource %s not found", finding.ResourceID))
		case errors.As(err, &partial):
			s.logger.Error("partial isolation", slog.Any("error", err))
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status":     "partial",
				"resourceId": partial.ResourceID,
				"unmodified": partial.Unmodified,
			})
		default:
			s.logger.Error("containment failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "containment failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "quarantined",
		"resourceId":  result.ResourceID,
		"attachments": result.Attachments,
		"tokenId":     result.TokenID,
	})
}

// handleResourceStatus reports a resource's containment state from its tags.
func (s *Server) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	resourceID := r.PathValue("id")
	res, err := s.restoration.Describe(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, gateway.ErrResourceNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("resource %s not found", resourceID))
			return
		}
		s.logger.Error("resource status lookup failed", slog.String("resource_id", resourceID), slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleApprove drives the operator-facing approval flow: a confirmation page
// on first click, then verification and restoration once confirmed.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resourceID := strings.TrimSpace(q.Get("resourceId"))
	findingID := strings.TrimSpace(q.Get("findingId"))
	findingTitle := strings.TrimSpace(q.Get("findingTitle"))
	tokenID := strings.TrimSpace(q.Get("token"))
	sig := strings.TrimSpace(q.Get("sig"))
	confirm := strings.ToLower(q.Get("confirm"))

	if resourceID == "" || findingID == "" {
		renderPage(w, http.StatusBadRequest, page{Title: "Missing parameters", Heading: "Missing resourceId or findingId"})
		return
	}

	display := findingTitle
	if display == "" {
		display = findingID
	}

	if confirm != "1" && confirm != "yes" && confirm != "true" {
		values := url.Values{}
		values.Set("resourceId", resourceID)
		values.Set("findingId", findingID)
		values.Set("findingTitle", findingTitle)
		values.Set("token", tokenID)
		values.Set("sig", sig)
		values.Set("confirm", "1")

		renderPage(w, http.StatusOK, page{
			Title:   "Confirm restore",
			Heading: "Approve restore?",
			Lines: []string{
				"Resource: " + resourceID,
				"Finding: " + display,
			},
			ApproveURL: selfURL(r) + "?" + values.Encode(),
		})
		return
	}

	if tokenID == "" || sig == "" {
		renderPage(w, http.StatusBadRequest, page{Title: "Invalid link", Heading: "Missing token or signature"})
		return
	}

	auth, err := s.verifier.Verify(r.Context(), tokenID, sig, resourceID, findingID)
	if err != nil {
		s.renderVerifyFailure(w, r, err, resourceID, findingTitle)
		return
	}

	result, err := s.restoration.Restore(r.Context(), auth)
	if err != nil {
		s.logger.Error("restoration failed", slog.String("resource_id", auth.ResourceID), slog.Any("error", err))
		renderPage(w, http.StatusBadGateway, page{
			Title:   "Restore incomplete",
			Heading: "Restore could not be completed",
			Lines: []string{
				"Resource " + auth.ResourceID + " remains quarantined.",
				"Operations has been alerted for manual remediation.",
			},
		})
		return
	}

	heading := "Restore complete"
	if result.Noop {
		heading = "Resource already restored"
	}
	renderPage(w, http.StatusOK, page{
		Title:   "Restore requested",
		Heading: heading,
		Lines: []string{
			fmt.Sprintf("Resource %s (finding %s) is healthy again.", auth.ResourceID, display),
			"You will receive a confirmation notification shortly.",
		},
	})
}

func (s *Server) renderVerifyFailure(w http.ResponseWriter, r *http.Request, err error, resourceID, findingTitle string) {
	switch {
	case errors.Is(err, approval.ErrUnknownToken):
		renderPage(w, http.StatusNotFound, page{Title: "Invalid link", Heading: "Token not found or no longer valid"})
	case errors.Is(err, approval.ErrExpiredToken):
		renderPage(w, http.StatusGone, page{Title: "Expired", Heading: "This approval link has expired", Lines: []string{
			"The resource remains quarantined. A new link is issued when the finding re-fires.",
		}})
	case errors.Is(err, approval.ErrAlreadyUsed):
		renderPage(w, http.StatusConflict, page{Title: "Already used", Heading: "This approval link was already used"})
	case errors.Is(err, approval.ErrSignatureMismatch):
		// Treated as a potential tampering attempt: alert, never silently drop.
		s.publishSecurityAlert(r, resourceID, findingTitle)
		renderPage(w, http.StatusForbidden, page{Title: "Invalid signature", Heading: "Signature check failed"})
	default:
		s.logger.Error("verification failed", slog.Any("error", err))
		renderPage(w, http.StatusInternalServerError, page{Title: "Error", Heading: "Verification could not be completed"})
	}
}

func (s *Server) publishSecurityAlert(r *http.Request, resourceID, findingTitle string) {
	n := models.Notification{
		ID:           uuid.New().String(),
		Kind:         models.NotifySecurityEvent,
		ResourceID:   resourceID,
		FindingTitle: findingTitle,
		Subject:      "[containment] approval signature mismatch",
		Message: fmt.Sprintf("An approval request for resource %s was rejected: signature check failed. Possible tampering from %s.",
			resourceID, r.RemoteAddr),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notifier.Publish(r.Context(), n); err != nil {
		s.logger.Error("failed to publish security alert", slog.Any("error", err))
	}
}

// selfURL rebuilds the externally visible URL of the approve endpoint so the
// confirmation link survives reverse proxies.
func selfURL(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", proto, host, r.URL.Path)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
