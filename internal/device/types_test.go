package device

import "testing"

func TestCanTransitionPairing(t *testing.T) {
	tests := []struct {
		from, to PairingStatus
		want     bool
	}{
		{PairingDiscovered, PairingInProgress, true},
		{PairingInProgress, PairingPaired, true},
		{PairingInProgress, PairingDiscovered, true},
		{PairingPaired, PairingExpired, true},
		{PairingPaired, PairingRevoked, true},
		{PairingExpired, PairingInProgress, true},
		{PairingRevoked, PairingInProgress, true},
		{PairingDiscovered, PairingPaired, false},
		{PairingInProgress, PairingExpired, false},
		{PairingExpired, PairingPaired, false},
		{PairingPaired, PairingDiscovered, false},
		{PairingRevoked, PairingRevoked, false},
	}

	for _, tt := range tests {
		if got := CanTransitionPairing(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionPairing(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDefaultSecurityLevel(t *testing.T) {
	tests := []struct {
		deviceType Type
		want       SecurityLevel
	}{
		{TypePrinter, SecurityBasic},
		{TypeDisplay, SecurityBasic},
		{TypeScanner, SecurityBasic},
		{TypePaymentTerminal, SecurityEnterprise},
	}

	for _, tt := range tests {
		if got := DefaultSecurityLevel(tt.deviceType); got != tt.want {
			t.Errorf("DefaultSecurityLevel(%s) = %s, want %s", tt.deviceType, got, tt.want)
		}
	}
}

func TestRecordClone(t *testing.T) {
	rec := testRecord("prn-01")
	clone := rec.Clone()

	clone.Capabilities[0] = "tampered"
	if rec.Capabilities[0] == "tampered" {
		t.Error("Clone() shares capability slice with original")
	}

	if rec.Clone() == rec {
		t.Error("Clone() returned the same pointer")
	}

	var nilRec *Record
	if nilRec.Clone() != nil {
		t.Error("Clone() on nil should return nil")
	}
}

func TestHasCapability(t *testing.T) {
	rec := testRecord("prn-01")

	if !rec.HasCapability(CapPrintReceipt) {
		t.Error("HasCapability(print_receipt) = false, want true")
	}
	if rec.HasCapability(CapScanBarcode) {
		t.Error("HasCapability(scan_barcode) = true, want false")
	}
}
