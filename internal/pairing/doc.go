// Package pairing drives the challenge-response protocol that takes a
// device from discovered to paired.
//
// An operator initiates pairing, which issues a short-lived challenge
// and a 6-digit pairing code. The code is shown to the operator,
// entered on the device, and the device proves possession by returning
// an HMAC over the challenge id keyed with the code. Three failed
// responses or five minutes without a valid one destroy the challenge
// and return the device to discovered.
//
// A valid response alone is not enough. The device submits its
// self-test results with the response; any critical failure blocks
// pairing outright. Informational failures let pairing complete with
// the device marked warning.
//
// Challenges live in memory only. They are secrets with a five-minute
// lifetime; persisting them buys nothing and widens exposure.
package pairing
