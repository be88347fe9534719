// Package device implements the device registry: the durable catalog of
// field devices and the single source of truth for their pairing and
// health lifecycle.
//
// Records follow a soft lifecycle. A device is created when its discovery
// announcement first arrives and is never deleted; decommissioning
// transitions it to PairingRevoked.
//
// # Status mutations
//
// PairingStatus and HealthStatus may only be mutated through the
// compare-and-swap methods. Each CAS checks the expected current value and
// bumps the record's version; a mismatch returns ErrConcurrentModification
// and the caller must re-read and retry. This is what prevents two
// simultaneous pairing attempts from both succeeding.
//
// The Registry wraps a Repository with an in-memory read cache; all writes
// go through the repository and update the cache on success.
package device
