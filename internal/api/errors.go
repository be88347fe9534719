package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oakline-systems/hardpoint-core/internal/command"
	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/pairing"
	"github.com/oakline-systems/hardpoint-core/internal/sandbox"
	"github.com/oakline-systems/hardpoint-core/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes surfaced to collaborators. Pairing and session codes are
// part of the device protocol; clients branch on them.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	ErrCodeAlreadyPairing     = "DEVICE_ALREADY_PAIRING"
	ErrCodeNotPairable        = "DEVICE_NOT_PAIRABLE"
	ErrCodeChallengeNotFound  = "PAIRING_CHALLENGE_NOT_FOUND"
	ErrCodeChallengeExpired   = "PAIRING_CHALLENGE_EXPIRED"
	ErrCodeChallengeFailed    = "PAIRING_CHALLENGE_FAILED"
	ErrCodeSelfTestFailed     = "DEVICE_SELF_TEST_FAILED"
	ErrCodeConcurrentMod      = "CONCURRENT_MODIFICATION"
	ErrCodeSessionExpired     = "DEVICE_SESSION_EXPIRED"
	ErrCodeSessionRevoked     = "DEVICE_SESSION_REVOKED"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeTokenConsumed      = "ACTION_TOKEN_CONSUMED"
	ErrCodeTokenMismatch      = "ACTION_TOKEN_MISMATCH"
	ErrCodeNoActiveSession    = "NO_ACTIVE_SESSION"
	ErrCodeUnknownAction      = "UNKNOWN_ACTION"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeQuarantined        = "DEVICE_QUARANTINED"
	ErrCodeResourceExhaustion = "SANDBOX_RESOURCE_EXHAUSTION"
	ErrCodeSandboxUnavailable = "SANDBOX_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// domainErrorMap pairs sentinel errors with their HTTP representation.
var domainErrorMap = []struct {
	err    error
	status int
	code   string
}{
	{device.ErrNotFound, http.StatusNotFound, ErrCodeDeviceNotFound},
	{device.ErrConcurrentModification, http.StatusConflict, ErrCodeConcurrentMod},
	{pairing.ErrAlreadyPairing, http.StatusConflict, ErrCodeAlreadyPairing},
	{pairing.ErrNotPairable, http.StatusConflict, ErrCodeNotPairable},
	{pairing.ErrChallengeNotFound, http.StatusNotFound, ErrCodeChallengeNotFound},
	{pairing.ErrChallengeExpired, http.StatusGone, ErrCodeChallengeExpired},
	{pairing.ErrChallengeFailed, http.StatusUnauthorized, ErrCodeChallengeFailed},
	{pairing.ErrSelfTestFailed, http.StatusUnprocessableEntity, ErrCodeSelfTestFailed},
	{session.ErrTokenExpired, http.StatusUnauthorized, ErrCodeSessionExpired},
	{session.ErrTokenRevoked, http.StatusUnauthorized, ErrCodeSessionRevoked},
	{session.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeTokenInvalid},
	{session.ErrUnknownKey, http.StatusUnauthorized, ErrCodeTokenInvalid},
	{session.ErrActionTokenConsumed, http.StatusConflict, ErrCodeTokenConsumed},
	{session.ErrNoActiveSession, http.StatusConflict, ErrCodeNoActiveSession},
	{session.ErrUnknownAction, http.StatusBadRequest, ErrCodeUnknownAction},
	{session.ErrPermissionDenied, http.StatusForbidden, ErrCodePermissionDenied},
	{sandbox.ErrQuarantined, http.StatusForbidden, ErrCodeQuarantined},
	{sandbox.ErrResourceExhaustion, http.StatusForbidden, ErrCodeResourceExhaustion},
	{sandbox.ErrNoSandbox, http.StatusConflict, ErrCodeSandboxUnavailable},
	{sandbox.ErrTerminating, http.StatusConflict, ErrCodeSandboxUnavailable},
	{command.ErrTokenMismatch, http.StatusForbidden, ErrCodeTokenMismatch},
}

// writeDomainError maps a domain sentinel error to its HTTP response.
// Unrecognized errors become 500s with a generic message so internals
// never leak to collaborators.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range domainErrorMap {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeInternalError(w, "internal server error")
}
