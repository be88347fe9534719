package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/audit"
)

// timeLayout is the timestamp format used in API responses.
const timeLayout = time.RFC3339

// auditRecord writes one audit entry on a best-effort basis. A missing
// repository disables auditing rather than failing the request.
func (s *Server) auditRecord(ctx context.Context, operatorID, action, entityType, entityID, deviceID string, details map[string]any) {
	if s.auditRepo == nil {
		return
	}
	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		DeviceID:   deviceID,
		OperatorID: operatorID,
		Source:     "api",
		Details:    details,
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Error("audit write failed", "action", action, "error", err)
	}
}

// handleListAudit returns the audit trail, filtered and paginated.
//
// Query parameters: action, entity_type, device_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeNotFound(w, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		DeviceID:   q.Get("device_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
