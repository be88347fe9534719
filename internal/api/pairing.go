package api

import (
	"encoding/json"
	"net/http"

	"github.com/oakline-systems/hardpoint-core/internal/selftest"
)

// pairingInitiateRequest is the operator's request to start pairing a
// discovered device.
type pairingInitiateRequest struct {
	DeviceID   string `json:"device_id"`
	OperatorID string `json:"operator_id"`
}

// pairingInitiateResponse carries the short code the operator reads to
// the device and the challenge the device answers against.
type pairingInitiateResponse struct {
	ChallengeID string `json:"challenge_id"`
	PairingCode string `json:"pairing_code"`
	ExpiresIn   int    `json:"expires_in"`
}

// handlePairingInitiate starts a pairing handshake.
func (s *Server) handlePairingInitiate(w http.ResponseWriter, r *http.Request) {
	var req pairingInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	if req.OperatorID == "" {
		writeBadRequest(w, "operator_id is required")
		return
	}

	info, err := s.pairing.InitiatePairing(r.Context(), req.DeviceID, req.OperatorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.auditRecord(r.Context(), req.OperatorID, "pairing_initiated", "pairing",
		info.ChallengeID, req.DeviceID, nil)

	writeJSON(w, http.StatusCreated, pairingInitiateResponse{
		ChallengeID: info.ChallengeID,
		PairingCode: info.PairingCode,
		ExpiresIn:   int(info.ExpiresIn.Seconds()),
	})
}

// selfTestResult mirrors the result payload devices submit with their
// challenge response.
type selfTestResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// pairingRespondRequest is the device's answer to a challenge.
type pairingRespondRequest struct {
	ChallengeID     string           `json:"challenge_id"`
	Response        string           `json:"response"`
	SelfTestResults []selfTestResult `json:"self_test_results"`
}

// pairingRespondResponse is returned on a successful pairing.
type pairingRespondResponse struct {
	SessionToken string   `json:"session_token"`
	ExpiresAt    string   `json:"expires_at"`
	RotationDue  string   `json:"rotation_due"`
	Capabilities []string `json:"capabilities"`
	Degraded     bool     `json:"degraded,omitempty"`
}

// handlePairingRespond completes pairing: verifies the challenge
// response, evaluates the self-test battery, and issues the session.
func (s *Server) handlePairingRespond(w http.ResponseWriter, r *http.Request) {
	var req pairingRespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ChallengeID == "" || req.Response == "" {
		writeBadRequest(w, "challenge_id and response are required")
		return
	}

	results := make([]selftest.Result, 0, len(req.SelfTestResults))
	for _, res := range req.SelfTestResults {
		results = append(results, selftest.Result{
			Name:   res.Name,
			Status: selftest.Status(res.Status),
			Detail: res.Detail,
		})
	}

	pr, err := s.pairing.SubmitResponse(r.Context(), req.ChallengeID, req.Response, results)
	if err != nil {
		s.auditRecord(r.Context(), "", "pairing_failed", "pairing",
			req.ChallengeID, "", map[string]any{"error": err.Error()})
		writeDomainError(w, err)
		return
	}

	s.auditRecord(r.Context(), "", "pairing_completed", "pairing",
		req.ChallengeID, "", map[string]any{"degraded": pr.Degraded})

	writeJSON(w, http.StatusOK, pairingRespondResponse{
		SessionToken: pr.Token.Token,
		ExpiresAt:    pr.Token.ExpiresAt.UTC().Format(timeLayout),
		RotationDue:  pr.Token.RotationDue.UTC().Format(timeLayout),
		Capabilities: pr.Capabilities,
		Degraded:     pr.Degraded,
	})
}
