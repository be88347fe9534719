package api

import (
	"encoding/json"
	"net/http"
)

// sessionRotateRequest asks for a fresh session token for a device.
type sessionRotateRequest struct {
	DeviceID string `json:"device_id"`
}

// tokenResponse carries an issued session or action token.
type tokenResponse struct {
	Token       string `json:"session_token,omitempty"`
	ActionToken string `json:"action_token,omitempty"`
	ExpiresAt   string `json:"expires_at"`
	ExpiresIn   int    `json:"expires_in"`
	RotationDue string `json:"rotation_due,omitempty"`
}

// handleSessionRotate issues a replacement session token. The old
// token stays valid for the rotation grace window.
func (s *Server) handleSessionRotate(w http.ResponseWriter, r *http.Request) {
	var req sessionRotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}

	tok, err := s.sessions.Rotate(r.Context(), req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.auditRecord(r.Context(), "", "session_rotated", "session",
		tok.JTI, req.DeviceID, nil)

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:       tok.Token,
		ExpiresAt:   tok.ExpiresAt.UTC().Format(timeLayout),
		ExpiresIn:   expiresIn(tok.ExpiresAt),
		RotationDue: tok.RotationDue.UTC().Format(timeLayout),
	})
}

// sessionRevokeRequest invalidates a device's session.
type sessionRevokeRequest struct {
	DeviceID   string `json:"device_id"`
	Reason     string `json:"reason"`
	OperatorID string `json:"operator_id,omitempty"`
}

// handleSessionRevoke revokes the device's active session. Revocation
// is idempotent; revoking a device with no session succeeds.
func (s *Server) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	var req sessionRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator_revoke"
	}

	if err := s.sessions.Revoke(r.Context(), req.DeviceID, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}

	s.auditRecord(r.Context(), req.OperatorID, "session_revoked", "session",
		"", req.DeviceID, map[string]any{"reason": req.Reason})

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": req.DeviceID,
		"revoked":   true,
	})
}

// actionTokenRequest asks for a single-use token scoped to one action.
type actionTokenRequest struct {
	DeviceID   string `json:"device_id"`
	ActionType string `json:"action_type"`
}

// handleActionToken issues a short-lived single-use action token.
func (s *Server) handleActionToken(w http.ResponseWriter, r *http.Request) {
	var req actionTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.ActionType == "" {
		writeBadRequest(w, "device_id and action_type are required")
		return
	}

	tok, err := s.sessions.IssueActionToken(r.Context(), req.DeviceID, req.ActionType)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		ActionToken: tok.Token,
		ExpiresAt:   tok.ExpiresAt.UTC().Format(timeLayout),
		ExpiresIn:   expiresIn(tok.ExpiresAt),
	})
}
