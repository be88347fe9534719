package session

import (
	"errors"
	"testing"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
)

func TestPolicyFor(t *testing.T) {
	for _, level := range device.AllSecurityLevels() {
		p := PolicyFor(level)
		if p.RotationInterval >= p.SessionTTL {
			t.Errorf("%s: rotation interval %v must be shorter than session TTL %v",
				level, p.RotationInterval, p.SessionTTL)
		}
		if p.ActionTTLMin > p.ActionTTLMax {
			t.Errorf("%s: action TTL range inverted", level)
		}
	}

	// Unknown levels fail tight.
	if PolicyFor("mystery") != policies[device.SecurityEnterprise] {
		t.Error("unknown level should fall back to enterprise policy")
	}
}

func TestActionTTLFor_Clamping(t *testing.T) {
	tests := []struct {
		level  device.SecurityLevel
		action string
		want   time.Duration
	}{
		// Nominal value inside the range passes through.
		{device.SecurityBasic, "print_receipt", 60 * time.Second},
		// Below the level minimum is raised.
		{device.SecurityBasic, "open_drawer", 30 * time.Second},
		{device.SecurityBasic, "authorize_payment", 30 * time.Second},
		// Above the enterprise maximum is lowered.
		{device.SecurityEnterprise, "print_receipt", 30 * time.Second},
		{device.SecurityEnterprise, "render_order", 30 * time.Second},
		{device.SecurityEnterprise, "authorize_payment", 15 * time.Second},
	}

	for _, tt := range tests {
		got, err := ActionTTLFor(tt.level, tt.action)
		if err != nil {
			t.Errorf("ActionTTLFor(%s, %s) error = %v", tt.level, tt.action, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ActionTTLFor(%s, %s) = %v, want %v", tt.level, tt.action, got, tt.want)
		}
	}
}

func TestActionTTLFor_CoversEveryCapability(t *testing.T) {
	for _, level := range device.AllSecurityLevels() {
		p := PolicyFor(level)
		for _, cap := range device.AllCapabilities() {
			ttl, err := ActionTTLFor(level, string(cap))
			if err != nil {
				t.Errorf("ActionTTLFor(%s, %s) error = %v", level, cap, err)
				continue
			}
			if ttl < p.ActionTTLMin || ttl > p.ActionTTLMax {
				t.Errorf("ActionTTLFor(%s, %s) = %v, outside [%v, %v]",
					level, cap, ttl, p.ActionTTLMin, p.ActionTTLMax)
			}
		}
	}
}

func TestActionTTLFor_UnknownAction(t *testing.T) {
	_, err := ActionTTLFor(device.SecurityBasic, "levitate")
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("ActionTTLFor() error = %v, want ErrUnknownAction", err)
	}
}
