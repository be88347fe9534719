// Package recovery implements fault-class-specific recovery policies.
//
// Paper-out: print work submitted while a printer is out of paper is
// queued durably in submission order instead of being rejected. The
// coordinator polls the printer every 10 seconds for up to an hour;
// when paper is restored the queue drains first-in-first-out. If the
// hour passes without paper the poll stops and the operator is told.
//
// Connection-drop: when the health monitor exhausts its reconnection
// attempts it hands the device here. The coordinator quarantines the
// device's sandbox, keeps probing on a slow cadence, and on reconnect
// validates the session token before anything else. A token that
// expired during the outage is never silently renewed; the device is
// marked expired and must go back through pairing, because its physical
// identity cannot be re-verified without a fresh challenge.
package recovery
