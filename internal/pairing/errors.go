package pairing

import "errors"

// Sentinel errors for the pairing protocol.
var (
	// ErrAlreadyPairing indicates a live challenge already exists for
	// the device. The caller waits or retries after it expires.
	ErrAlreadyPairing = errors.New("pairing: device already pairing")

	// ErrChallengeNotFound indicates an unknown challenge id.
	ErrChallengeNotFound = errors.New("pairing: challenge not found")

	// ErrChallengeExpired indicates a response submitted after the
	// challenge TTL. Recoverable by initiating pairing again.
	ErrChallengeExpired = errors.New("pairing: challenge expired")

	// ErrChallengeFailed indicates a response with a bad HMAC.
	ErrChallengeFailed = errors.New("pairing: challenge response failed")

	// ErrSelfTestFailed indicates a critical self-test failure.
	// Pairing is blocked and is not silently retried.
	ErrSelfTestFailed = errors.New("pairing: critical self-test failed")

	// ErrNotPairable indicates the device's pairing status does not
	// permit starting a challenge.
	ErrNotPairable = errors.New("pairing: device not in a pairable state")
)
