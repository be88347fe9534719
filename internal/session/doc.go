// Package session issues, rotates, revokes, and validates the signed
// tokens that authenticate paired devices.
//
// Two token kinds exist. Session tokens carry a device's permission set
// and live for hours, with a rotation deadline derived from the device's
// security level. Action tokens authorize exactly one operation, live
// for seconds, and are consumed on first use via a durable consumption
// record.
//
// Validation order is fixed: signature, then expiry, then the revocation
// index. The revocation index is authoritative; a structurally valid,
// unexpired token is still rejected once its jti has been revoked.
// Revocations are written to the database before the revoke call
// returns, so an acknowledged revoke can never be raced by a validation.
//
// Signing keys are held in memory only and rotate on a TTL. A process
// restart discards them, which invalidates all outstanding tokens and
// forces devices back through pairing. That trade was made deliberately:
// no key material at rest.
//
// At most one valid session token exists per device. Issue revokes any
// live predecessor before the new token is returned.
package session
