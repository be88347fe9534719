package device

import "time"

// Record describes one physical field device and its lifecycle state.
// This matches the devices table in migrations/20260815_120000_initial_schema.up.sql.
type Record struct {
	// Identity
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Classification
	Type Type `json:"type"`

	// Network identity
	MAC    string `json:"mac"`
	LastIP string `json:"last_ip"`

	// Capabilities are the operation names the device announced.
	// Session token permissions are always a subset of these.
	Capabilities []Capability `json:"capabilities"`

	// Lifecycle
	PairingStatus PairingStatus `json:"pairing_status"`
	HealthStatus  HealthStatus  `json:"health_status"`
	SecurityLevel SecurityLevel `json:"security_level"`

	// PaperStatus is set for devices with consumables (printers).
	// Empty means not applicable.
	PaperStatus PaperStatus `json:"paper_status,omitempty"`

	// SessionExpiresAt mirrors the absolute expiry of the device's current
	// session token, for operator visibility.
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`

	// Version backs optimistic concurrency on status mutations.
	Version int64 `json:"version"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates an independent copy of the Record.
// Slice fields are copied so mutations of the clone do not affect the
// original. Essential for cache isolation.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	cpy := *r

	if r.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(r.Capabilities))
		copy(cpy.Capabilities, r.Capabilities)
	}

	if r.SessionExpiresAt != nil {
		t := *r.SessionExpiresAt
		cpy.SessionExpiresAt = &t
	}

	return &cpy
}

// HasCapability reports whether the device announced the given capability.
func (r *Record) HasCapability(c Capability) bool {
	for _, have := range r.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Type represents the kind of field device.
type Type string

// Type constants. This is a closed set; announcements with an unknown
// type are rejected by validation.
const (
	TypePrinter         Type = "printer"
	TypeDisplay         Type = "display"
	TypeScanner         Type = "scanner"
	TypePaymentTerminal Type = "payment_terminal"
)

// AllTypes returns all valid device type values.
func AllTypes() []Type {
	return []Type{TypePrinter, TypeDisplay, TypeScanner, TypePaymentTerminal}
}

// PairingStatus represents where a device is in the pairing lifecycle.
type PairingStatus string

// PairingStatus constants.
const (
	PairingDiscovered PairingStatus = "discovered"
	PairingInProgress PairingStatus = "pairing"
	PairingPaired     PairingStatus = "paired"
	PairingExpired    PairingStatus = "expired"
	PairingRevoked    PairingStatus = "revoked"
)

// AllPairingStatuses returns all valid pairing status values.
func AllPairingStatuses() []PairingStatus {
	return []PairingStatus{
		PairingDiscovered, PairingInProgress, PairingPaired,
		PairingExpired, PairingRevoked,
	}
}

// pairingTransitions defines the sanctioned pairing state machine.
// Expired and revoked devices may only leave those states by going
// through pairing again; operator action is what drives that edge.
var pairingTransitions = map[PairingStatus][]PairingStatus{
	PairingDiscovered: {PairingInProgress, PairingRevoked},
	PairingInProgress: {PairingPaired, PairingDiscovered, PairingRevoked},
	PairingPaired:     {PairingExpired, PairingRevoked},
	PairingExpired:    {PairingInProgress, PairingRevoked},
	PairingRevoked:    {PairingInProgress},
}

// CanTransitionPairing reports whether moving from one pairing status to
// another is allowed by the state machine.
func CanTransitionPairing(from, to PairingStatus) bool {
	for _, allowed := range pairingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// HealthStatus represents the device health state.
type HealthStatus string

// HealthStatus constants.
const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
	HealthOffline HealthStatus = "offline"
)

// AllHealthStatuses returns all valid health status values.
func AllHealthStatuses() []HealthStatus {
	return []HealthStatus{HealthHealthy, HealthWarning, HealthError, HealthOffline}
}

// SecurityLevel selects the token lifetime and rotation policy for a device.
type SecurityLevel string

// SecurityLevel constants.
const (
	SecurityBasic      SecurityLevel = "basic"
	SecurityEnhanced   SecurityLevel = "enhanced"
	SecurityEnterprise SecurityLevel = "enterprise"
)

// AllSecurityLevels returns all valid security level values.
func AllSecurityLevels() []SecurityLevel {
	return []SecurityLevel{SecurityBasic, SecurityEnhanced, SecurityEnterprise}
}

// DefaultSecurityLevel returns the security level applied to a device type
// when the announcement does not specify one. Payment terminals always get
// the strictest policy.
func DefaultSecurityLevel(t Type) SecurityLevel {
	if t == TypePaymentTerminal {
		return SecurityEnterprise
	}
	return SecurityBasic
}

// PaperStatus represents consumable state for devices that have one.
type PaperStatus string

// PaperStatus constants.
const (
	PaperOK  PaperStatus = "ok"
	PaperLow PaperStatus = "low"
	PaperOut PaperStatus = "out"
)

// Capability represents an operation a device can perform.
type Capability string

// Printer capabilities.
const (
	CapPrintReceipt Capability = "print_receipt"
	CapPrintLabel   Capability = "print_label"
	CapOpenDrawer   Capability = "open_drawer"
	CapCutPaper     Capability = "cut_paper"
)

// Display capabilities.
const (
	CapRenderOrder  Capability = "render_order"
	CapClearScreen  Capability = "clear_screen"
	CapBumpTicket   Capability = "bump_ticket"
	CapRecallTicket Capability = "recall_ticket"
)

// Scanner capabilities.
const (
	CapScanBarcode Capability = "scan_barcode"
	CapScanQR      Capability = "scan_qr"
)

// Payment terminal capabilities.
const (
	CapAuthorizePayment Capability = "authorize_payment"
	CapCapturePayment   Capability = "capture_payment"
	CapRefundPayment    Capability = "refund_payment"
	CapTokenizeCard     Capability = "tokenize_card"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{
		// Printer
		CapPrintReceipt, CapPrintLabel, CapOpenDrawer, CapCutPaper,
		// Display
		CapRenderOrder, CapClearScreen, CapBumpTicket, CapRecallTicket,
		// Scanner
		CapScanBarcode, CapScanQR,
		// Payment terminal
		CapAuthorizePayment, CapCapturePayment, CapRefundPayment, CapTokenizeCard,
	}
}
