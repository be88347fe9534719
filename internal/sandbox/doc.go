// Package sandbox manages the isolated execution contexts that wrap
// all device command execution.
//
// One sandbox is created per device when pairing completes, sized by a
// device-type profile. Ceilings are immutable for the life of the
// sandbox; changing them means destroying and recreating it.
//
// A monitoring loop samples resource usage every 10 seconds, expressed
// as percent of the sandbox's ceiling. Crossing the severe threshold
// terminates the sandbox immediately and quarantines the device.
// Crossing the moderate threshold throttles the sandbox; usage falling
// back restores it. Quarantine blocks all command admission until an
// operator re-pairs the device.
//
// Admission is checked per command, immediately before dispatch. A
// sandbox in the terminating state admits nothing, even commands that
// were queued while it was still active.
package sandbox
