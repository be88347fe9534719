package sandbox

import (
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
)

// NetworkPolicy constrains what a sandbox may reach.
type NetworkPolicy string

// NetworkPolicy constants.
const (
	// NetworkLocalOnly permits traffic to the control plane only.
	NetworkLocalOnly NetworkPolicy = "local_only"

	// NetworkPaymentGateway additionally permits the payment gateway
	// endpoints.
	NetworkPaymentGateway NetworkPolicy = "payment_gateway"
)

// Profile is the immutable resource envelope for one device type.
type Profile struct {
	MemoryLimitMB  int
	CPUPercent     int
	NetworkKbps    int
	ExecTimeout    time.Duration
	Network        NetworkPolicy
	FilesystemRead []string
}

// profiles keys resource envelopes by device type. Payment terminals
// get the largest envelope plus the extra compliance controls bound to
// the payment network policy.
var profiles = map[device.Type]Profile{
	device.TypePrinter: {
		MemoryLimitMB:  64,
		CPUPercent:     15,
		NetworkKbps:    256,
		ExecTimeout:    30 * time.Second,
		Network:        NetworkLocalOnly,
		FilesystemRead: []string{"/spool"},
	},
	device.TypeDisplay: {
		MemoryLimitMB:  256,
		CPUPercent:     40,
		NetworkKbps:    2048,
		ExecTimeout:    60 * time.Second,
		Network:        NetworkLocalOnly,
		FilesystemRead: []string{"/assets"},
	},
	device.TypeScanner: {
		MemoryLimitMB:  128,
		CPUPercent:     25,
		NetworkKbps:    512,
		ExecTimeout:    30 * time.Second,
		Network:        NetworkLocalOnly,
		FilesystemRead: nil,
	},
	device.TypePaymentTerminal: {
		MemoryLimitMB:  512,
		CPUPercent:     60,
		NetworkKbps:    1024,
		ExecTimeout:    120 * time.Second,
		Network:        NetworkPaymentGateway,
		FilesystemRead: []string{"/certs"},
	},
}

// ProfileFor returns the resource profile for a device type. The
// scanner profile is the fallback for unknown types, being the most
// restrictive general-purpose envelope.
func ProfileFor(t device.Type) Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[device.TypeScanner]
}
