package selftest

import (
	"errors"
	"testing"

	"github.com/oakline-systems/hardpoint-core/internal/device"
)

// passingResults builds an all-pass result set for a device type.
func passingResults(t *testing.T, deviceType device.Type) []Result {
	t.Helper()
	battery, err := BatteryFor(deviceType)
	if err != nil {
		t.Fatalf("BatteryFor(%s) error = %v", deviceType, err)
	}
	results := make([]Result, 0, len(battery))
	for _, check := range battery {
		results = append(results, Result{Name: check.Name, Status: StatusPass})
	}
	return results
}

func TestEvaluate_AllPass(t *testing.T) {
	for _, deviceType := range device.AllTypes() {
		report, err := Evaluate(deviceType, passingResults(t, deviceType))
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", deviceType, err)
		}
		if !report.Passed() {
			t.Errorf("Passed() = false for all-pass %s battery", deviceType)
		}
		if report.Degraded() {
			t.Errorf("Degraded() = true for all-pass %s battery", deviceType)
		}
	}
}

func TestEvaluate_CriticalFailureBlocks(t *testing.T) {
	results := passingResults(t, device.TypePrinter)
	for i := range results {
		if results[i].Name == "paper_feed" {
			results[i].Status = StatusFail
			results[i].Detail = "feed motor stalled"
		}
	}

	report, err := Evaluate(device.TypePrinter, results)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Passed() {
		t.Error("Passed() = true with failed critical check")
	}
	if len(report.CriticalFailures) != 1 || report.CriticalFailures[0] != "paper_feed" {
		t.Errorf("CriticalFailures = %v, want [paper_feed]", report.CriticalFailures)
	}
}

func TestEvaluate_InformationalFailureDegrades(t *testing.T) {
	results := passingResults(t, device.TypePrinter)
	for i := range results {
		if results[i].Name == "print_quality" {
			results[i].Status = StatusFail
		}
	}

	report, err := Evaluate(device.TypePrinter, results)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !report.Passed() {
		t.Error("Passed() = false, informational failure must not block")
	}
	if !report.Degraded() {
		t.Error("Degraded() = false, informational failure must degrade")
	}
}

func TestEvaluate_WarningDegrades(t *testing.T) {
	results := passingResults(t, device.TypeDisplay)
	for i := range results {
		if results[i].Name == "render" {
			results[i].Status = StatusWarning
			results[i].Detail = "dead pixels in corner"
		}
	}

	report, err := Evaluate(device.TypeDisplay, results)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !report.Passed() {
		t.Error("Passed() = false, a warning on a critical check must not block")
	}
	if !report.Degraded() {
		t.Error("Degraded() = false, want true")
	}
}

func TestEvaluate_MissingCriticalResultFails(t *testing.T) {
	results := passingResults(t, device.TypePaymentTerminal)
	trimmed := results[:0]
	for _, res := range results {
		if res.Name != "secure_element" {
			trimmed = append(trimmed, res)
		}
	}

	report, err := Evaluate(device.TypePaymentTerminal, trimmed)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Passed() {
		t.Error("Passed() = true with omitted critical result")
	}
}

func TestEvaluate_RejectsUnknownTest(t *testing.T) {
	results := append(passingResults(t, device.TypeScanner),
		Result{Name: "warp_drive", Status: StatusPass})

	_, err := Evaluate(device.TypeScanner, results)
	if !errors.Is(err, ErrUnknownTest) {
		t.Errorf("Evaluate() error = %v, want ErrUnknownTest", err)
	}
}

func TestEvaluate_RejectsInvalidStatus(t *testing.T) {
	results := passingResults(t, device.TypeScanner)
	results[0].Status = "maybe"

	_, err := Evaluate(device.TypeScanner, results)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Evaluate() error = %v, want ErrInvalidStatus", err)
	}
}

func TestEvaluate_UnknownDeviceType(t *testing.T) {
	_, err := Evaluate("toaster", nil)
	if !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("Evaluate() error = %v, want ErrUnknownDeviceType", err)
	}

	_, err = BatteryFor("toaster")
	if !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("BatteryFor() error = %v, want ErrUnknownDeviceType", err)
	}
}
