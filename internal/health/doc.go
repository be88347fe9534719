// Package health runs the per-device supervisory health loop.
//
// Each paired device is probed every 30 seconds: a base connectivity
// probe plus a device-type check (paper and jam state for printers,
// render acknowledgement for displays, decode-engine ping for
// scanners). On failure the loop switches to reconnection mode with
// progressive backoff of 5, 10, 20, 40, 80 seconds. After five failed
// attempts the device is marked offline, handed to the recovery
// coordinator, and an operator notification goes out. Any successful
// probe resets the attempt counter and restores the device to healthy.
//
// Loops are scheduled as one-shot tasks that reschedule themselves, so
// the whole fleet shares one bounded worker pool and revoking a device
// cancels its loop deterministically.
package health
