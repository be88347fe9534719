package sandbox

import "errors"

// Sentinel errors for sandbox admission and lifecycle.
var (
	// ErrNoSandbox indicates the device has no sandbox. Commands are
	// only dispatched to provisioned devices.
	ErrNoSandbox = errors.New("sandbox: no sandbox for device")

	// ErrAlreadyProvisioned indicates a Provision call for a device
	// that already has a live sandbox.
	ErrAlreadyProvisioned = errors.New("sandbox: already provisioned")

	// ErrTerminating indicates admission was refused because the
	// sandbox is terminating or terminated.
	ErrTerminating = errors.New("sandbox: sandbox terminating")

	// ErrQuarantined indicates the device is quarantined. Only an
	// operator re-pairing clears this.
	ErrQuarantined = errors.New("sandbox: device quarantined")

	// ErrResourceExhaustion indicates the sandbox was terminated for
	// crossing a severe resource threshold. Fatal to the sandbox.
	ErrResourceExhaustion = errors.New("sandbox: resource exhaustion")
)
