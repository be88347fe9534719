package device

import "fmt"

// maxIDLength bounds device identifiers; announcements with longer IDs are
// rejected before they reach storage.
const maxIDLength = 64

// Validate checks a record before persistence.
func Validate(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if rec.ID == "" || len(rec.ID) > maxIDLength {
		return fmt.Errorf("%w: id must be 1-%d characters", ErrInvalidRecord, maxIDLength)
	}
	if rec.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRecord)
	}
	if !validType(rec.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, rec.Type)
	}
	for _, c := range rec.Capabilities {
		if !validCapability(c) {
			return fmt.Errorf("%w: unknown capability %q", ErrInvalidRecord, c)
		}
	}
	return nil
}

func validType(t Type) bool {
	for _, valid := range AllTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

func validCapability(c Capability) bool {
	for _, valid := range AllCapabilities() {
		if c == valid {
			return true
		}
	}
	return false
}
