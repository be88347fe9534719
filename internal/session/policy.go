package session

import (
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
)

// Policy holds the token lifetime rules for one security level.
type Policy struct {
	// SessionTTL is the absolute lifetime of a session token.
	SessionTTL time.Duration

	// RotationInterval is how long after issuance a rotation becomes
	// due. Always shorter than SessionTTL so the old token stays valid
	// while the new one is delivered.
	RotationInterval time.Duration

	// ActionTTLMin and ActionTTLMax bound action-token lifetimes at
	// this level. The per-action table is clamped into this range.
	ActionTTLMin time.Duration
	ActionTTLMax time.Duration
}

// policies keys lifetime rules by security level. Enterprise devices
// (payment terminals) get the tightest windows.
var policies = map[device.SecurityLevel]Policy{
	device.SecurityBasic: {
		SessionTTL:       7 * 24 * time.Hour,
		RotationInterval: 24 * time.Hour,
		ActionTTLMin:     30 * time.Second,
		ActionTTLMax:     300 * time.Second,
	},
	device.SecurityEnhanced: {
		SessionTTL:       24 * time.Hour,
		RotationInterval: 8 * time.Hour,
		ActionTTLMin:     30 * time.Second,
		ActionTTLMax:     300 * time.Second,
	},
	device.SecurityEnterprise: {
		SessionTTL:       4 * time.Hour,
		RotationInterval: 2 * time.Hour,
		ActionTTLMin:     10 * time.Second,
		ActionTTLMax:     30 * time.Second,
	},
}

// actionTTLs maps each device capability to its nominal token lifetime
// before clamping to the security level's range. Every capability a
// device can announce has an entry here; money movement and the cash
// drawer get the shortest windows.
var actionTTLs = map[string]time.Duration{
	string(device.CapPrintReceipt): 60 * time.Second,
	string(device.CapPrintLabel):   60 * time.Second,
	string(device.CapOpenDrawer):   15 * time.Second,
	string(device.CapCutPaper):     30 * time.Second,

	string(device.CapRenderOrder):  120 * time.Second,
	string(device.CapClearScreen):  60 * time.Second,
	string(device.CapBumpTicket):   60 * time.Second,
	string(device.CapRecallTicket): 60 * time.Second,

	string(device.CapScanBarcode): 60 * time.Second,
	string(device.CapScanQR):      60 * time.Second,

	string(device.CapAuthorizePayment): 15 * time.Second,
	string(device.CapCapturePayment):   15 * time.Second,
	string(device.CapRefundPayment):    15 * time.Second,
	string(device.CapTokenizeCard):     15 * time.Second,
}

// PolicyFor returns the lifetime policy for a security level. Unknown
// levels fall back to the enterprise policy; failing tight is safer
// than failing loose.
func PolicyFor(level device.SecurityLevel) Policy {
	if p, ok := policies[level]; ok {
		return p
	}
	return policies[device.SecurityEnterprise]
}

// ActionTTLFor returns the action-token lifetime for an action type at
// the given security level, clamped into the level's range.
func ActionTTLFor(level device.SecurityLevel, actionType string) (time.Duration, error) {
	ttl, ok := actionTTLs[actionType]
	if !ok {
		return 0, ErrUnknownAction
	}

	p := PolicyFor(level)
	if ttl < p.ActionTTLMin {
		ttl = p.ActionTTLMin
	}
	if ttl > p.ActionTTLMax {
		ttl = p.ActionTTLMax
	}
	return ttl, nil
}
