package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakline-systems/hardpoint-core/internal/command"
	"github.com/oakline-systems/hardpoint-core/internal/device"
)

// expiresIn converts an absolute expiry into whole seconds from now,
// floored at zero.
func expiresIn(expiresAt time.Time) int {
	d := time.Until(expiresAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

// deviceStatusResponse is the per-device status view for collaborators.
type deviceStatusResponse struct {
	DeviceID      string `json:"device_id"`
	Type          string `json:"type"`
	PairingStatus string `json:"pairing_status"`
	HealthStatus  string `json:"health_status"`
	SecurityLevel string `json:"security_level"`
	PaperStatus   string `json:"paper_status,omitempty"`
	Quarantined   bool   `json:"quarantined,omitempty"`
	SessionExpiry string `json:"session_expires_at,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func (s *Server) statusView(rec *device.Record) deviceStatusResponse {
	resp := deviceStatusResponse{
		DeviceID:      rec.ID,
		Type:          string(rec.Type),
		PairingStatus: string(rec.PairingStatus),
		HealthStatus:  string(rec.HealthStatus),
		SecurityLevel: string(rec.SecurityLevel),
		PaperStatus:   string(rec.PaperStatus),
		UpdatedAt:     rec.UpdatedAt.UTC().Format(timeLayout),
	}
	if rec.SessionExpiresAt != nil {
		resp.SessionExpiry = rec.SessionExpiresAt.UTC().Format(timeLayout)
	}
	if s.sandboxes != nil {
		resp.Quarantined = s.sandboxes.IsQuarantined(rec.ID)
	}
	return resp
}

// handleListDevices returns every device known to the registry.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	devices := make([]deviceStatusResponse, 0, len(records))
	for i := range records {
		devices = append(devices, s.statusView(&records[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleDeviceStatus returns one device's pairing, health, and
// consumable state.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.statusView(rec))
}

// deviceCommandRequest is a command submission for one device.
type deviceCommandRequest struct {
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ActionToken string          `json:"action_token"`
}

// handleDeviceCommand runs a command through the admission gate: the
// action token is consumed, the sandbox checked, and the command
// dispatched or deferred.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeNotFound(w, "command dispatch not enabled")
		return
	}

	id := chi.URLParam(r, "id")

	var req deviceCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Operation == "" {
		writeBadRequest(w, "operation is required")
		return
	}
	if req.ActionToken == "" {
		writeBadRequest(w, "action_token is required")
		return
	}

	result, err := s.commands.Execute(r.Context(), command.Request{
		DeviceID:    id,
		Operation:   req.Operation,
		Payload:     req.Payload,
		ActionToken: req.ActionToken,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.auditRecord(r.Context(), "", "command_dispatched", "device", "", id,
		map[string]any{"operation": req.Operation, "status": result.Status})

	status := http.StatusOK
	if result.Status == "deferred" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"device_id": id,
		"operation": req.Operation,
		"status":    result.Status,
		"seq":       result.Seq,
	})
}
