// ABOUTME: HTTP API for presence snapshots and mutations committed outside the websocket
// ABOUTME: Both endpoints require an authenticated identity that can view the project

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/coven-collab/internal/auth"
	"github.com/2389/coven-collab/internal/identity"
)

// PresenceResponse is the body of GET /api/projects/{projectID}/presence.
type PresenceResponse struct {
	ProjectID string              `json:"projectId"`
	Users     []identity.Identity `json:"users"`
}

// ResourceChangedRequest is the body of
// POST /api/projects/{projectID}/resources/{resourceID}/changed.
type ResourceChangedRequest struct {
	ChangeKind string          `json:"changeKind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// handlePresence returns the users currently present in a project room.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	if !g.authorizeProject(w, r, projectID) {
		return
	}

	users := g.coordinator.Presence(projectID)
	if users == nil {
		users = []identity.Identity{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PresenceResponse{
		ProjectID: projectID,
		Users:     users,
	})
}

// handleResourceChanged lets the CRUD layer report a committed mutation so
// any edit lock is released and the room is told to refetch.
func (g *Gateway) handleResourceChanged(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	resourceID := r.PathValue("resourceID")
	if !g.authorizeProject(w, r, projectID) {
		return
	}

	req, err := parseResourceChangedRequest(http.MaxBytesReader(w, r.Body, g.maxMessageBytes()))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := auth.MustFromContext(r.Context())
	g.coordinator.ExternalChange(projectID, resourceID, req.ChangeKind, id.UserID, req.Payload)

	g.logger.Debug("external change applied",
		"project_id", projectID,
		"resource_id", resourceID,
		"change_kind", req.ChangeKind,
		"user_id", id.UserID,
	)
	w.WriteHeader(http.StatusAccepted)
}

// authorizeProject checks that the request's identity may view projectID,
// writing the error response and returning false when it may not.
func (g *Gateway) authorizeProject(w http.ResponseWriter, r *http.Request, projectID string) bool {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return false
	}

	allowed, err := g.store.CanViewProject(r.Context(), id.UserID, projectID)
	if err != nil {
		g.logger.Error("access check failed", "user_id", id.UserID, "project_id", projectID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	if !allowed {
		g.sendJSONError(w, http.StatusForbidden, "access denied")
		return false
	}
	return true
}

// parseResourceChangedRequest decodes and validates a change notification.
func parseResourceChangedRequest(r io.Reader) (*ResourceChangedRequest, error) {
	var req ResourceChangedRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	req.ChangeKind = strings.TrimSpace(req.ChangeKind)
	if req.ChangeKind == "" {
		return nil, errors.New("changeKind is required")
	}
	return &req, nil
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
