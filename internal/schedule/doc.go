// Package schedule provides a cancellable delay-queue scheduler backed by
// a bounded worker pool.
//
// Supervisory loops (health checks, token rotation, sandbox sampling,
// recovery polls) are scheduled here as one-shot tasks keyed by device ID
// and task name. Tasks that need to repeat reschedule themselves on
// completion. The pool bounds concurrency across all devices so a large
// fleet never turns into one goroutine per device.
//
// Cancellation is per device: decommissioning or revoking a device cancels
// every task scheduled under its ID, which prevents stale timers from
// mutating a device that is no longer active.
package schedule
