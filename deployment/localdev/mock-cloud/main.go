// mock-cloud is a local stand-in for the cloud control plane and parameter
// store so the engine can be exercised end to end without real infrastructure.
// It seeds one resource (i-0aa11bb22cc33dd44) with two attachments and serves
// a static signing key; a /notify endpoint prints webhook deliveries.
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
)

type attachment struct {
	AttachmentID string   `json:"attachmentId"`
	PolicyIDs    []string `json:"policyIds"`
}

type resource struct {
	Attachments []attachment
	Tags        map[string]string
}

type cloudState struct {
	mu        sync.Mutex
	resources map[string]*resource
	// attachment id -> owning resource id
	owners map[string]string
}

func newCloudState() *cloudState {
	s := &cloudState{
		resources: map[string]*resource{},
		owners:    map[string]string{},
	}
	s.seed("i-0aa11bb22cc33dd44", []attachment{
		{AttachmentID: "eni-0123456789abcdef0", PolicyIDs: []string{"sg-aaaa1111", "sg-bbbb2222"}},
		{AttachmentID: "eni-0fedcba987654321f", PolicyIDs: []string{"sg-cccc3333"}},
	})
	return s
}

func (s *cloudState) seed(resourceID string, attachments []attachment) {
	s.resources[resourceID] = &resource{Attachments: attachments, Tags: map[string]string{}}
	for _, att := range attachments {
		s.owners[att.AttachmentID] = resourceID
	}
}

func main() {
	state := newCloudState()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /v1/resources/{id}/attachments", func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		defer state.mu.Unlock()
		res, ok := state.resources[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"attachments": res.Attachments})
	})

	mux.HandleFunc("PUT /v1/attachments/{id}/policies", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			PolicyIDs []string `json:"policyIds"`
		}
		if !decode(w, r, &payload) {
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		attachmentID := r.PathValue("id")
		owner, ok := state.owners[attachmentID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		res := state.resources[owner]
		for i := range res.Attachments {
			if res.Attachments[i].AttachmentID == attachmentID {
				res.Attachments[i].PolicyIDs = payload.PolicyIDs
			}
		}
		log.Printf("replaced policies on %s: %v", attachmentID, payload.PolicyIDs)
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("GET /v1/resources/{id}/tags", func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		defer state.mu.Unlock()
		res, ok := state.resources[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"tags": res.Tags})
	})

	mux.HandleFunc("PUT /v1/resources/{id}/tags", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Tags map[string]string `json:"tags"`
		}
		if !decode(w, r, &payload) {
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		res, ok := state.resources[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		for k, v := range payload.Tags {
			res.Tags[k] = v
		}
		log.Printf("tags on %s now %v", r.PathValue("id"), res.Tags)
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("DELETE /v1/resources/{id}/tags", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Keys []string `json:"keys"`
		}
		if !decode(w, r, &payload) {
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		res, ok := state.resources[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		for _, k := range payload.Keys {
			delete(res.Tags, k)
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("POST /v1/resources/{id}/tags:cas", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Key    string `json:"key"`
			Expect string `json:"expect"`
			Value  string `json:"value"`
		}
		if !decode(w, r, &payload) {
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		res, ok := state.resources[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		swapped := res.Tags[payload.Key] == payload.Expect
		if swapped {
			res.Tags[payload.Key] = payload.Value
		}
		log.Printf("cas %s on %s: swapped=%v", payload.Key, r.PathValue("id"), swapped)
		writeJSON(w, map[string]any{"swapped": swapped})
	})

	mux.HandleFunc("GET /v1/parameters/{name...}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"name":  r.PathValue("name"),
			"value": "localdev-signing-key",
		})
	})

	mux.HandleFunc("POST /notify", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Printf("notification received:\n%s", body)
		w.WriteHeader(http.StatusOK)
	})

	log.Println("mock-cloud listening on :9000")
	log.Fatal(http.ListenAndServe(":9000", mux))
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
