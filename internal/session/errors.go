package session

import "errors"

// Sentinel errors for token operations. Wrapped with context where
// helpful; check with errors.Is.
var (
	// ErrTokenInvalid indicates a token that failed signature or
	// structural checks.
	ErrTokenInvalid = errors.New("session: token invalid")

	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = errors.New("session: token expired")

	// ErrTokenRevoked indicates a token whose jti is in the revocation
	// index.
	ErrTokenRevoked = errors.New("session: token revoked")

	// ErrActionTokenConsumed indicates a single-use token presented a
	// second time.
	ErrActionTokenConsumed = errors.New("session: action token already consumed")

	// ErrNoActiveSession indicates an operation that requires a live
	// session for the device, and none exists.
	ErrNoActiveSession = errors.New("session: no active session for device")

	// ErrUnknownAction indicates an action type with no TTL entry.
	ErrUnknownAction = errors.New("session: unknown action type")

	// ErrUnknownKey indicates a token signed with a key id this process
	// does not hold. Typical after a restart.
	ErrUnknownKey = errors.New("session: unknown signing key")

	// ErrPermissionDenied indicates an action type outside the device's
	// granted permissions.
	ErrPermissionDenied = errors.New("session: action not in device permissions")
)
