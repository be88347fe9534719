package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the "knd" claim.
const (
	KindSession = "session"
	KindAction  = "action"
)

// Claims is the JWT payload for both token kinds.
//
// Session tokens populate Permissions and RotationDue. Action tokens
// populate ActionType and set SingleUse; their jti is the consumption
// key.
type Claims struct {
	jwt.RegisteredClaims

	DeviceID       string   `json:"device_id"`
	TenantID       string   `json:"tenant_id"`
	Kind           string   `json:"knd"`
	Permissions    []string `json:"permissions,omitempty"`
	RotationDue    int64    `json:"rotation_due,omitempty"`
	Fingerprint    string   `json:"fingerprint"`
	NetworkBinding string   `json:"network_binding,omitempty"`
	ActionType     string   `json:"action_type,omitempty"`
	SingleUse      bool     `json:"single_use,omitempty"`
}

// JTI returns the token's unique identifier.
func (c *Claims) JTI() string {
	return c.ID
}

// RotationDueAt returns the rotation deadline as a time, or the zero
// time for action tokens.
func (c *Claims) RotationDueAt() time.Time {
	if c.RotationDue == 0 {
		return time.Time{}
	}
	return time.Unix(c.RotationDue, 0)
}

// Fingerprint derives the device binding factor from its stable
// identity. Tokens presented for a device are checked against a fresh
// derivation, so a token cannot be replayed for a different device even
// if its signature holds.
func Fingerprint(deviceID, mac string) string {
	sum := sha256.Sum256([]byte(deviceID + "|" + mac))
	return hex.EncodeToString(sum[:])
}
