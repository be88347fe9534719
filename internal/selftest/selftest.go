package selftest

import (
	"errors"
	"fmt"

	"github.com/oakline-systems/hardpoint-core/internal/device"
)

// Sentinel errors for self-test validation.
var (
	ErrUnknownDeviceType = errors.New("selftest: no battery for device type")
	ErrUnknownTest       = errors.New("selftest: result for test not in battery")
	ErrInvalidStatus     = errors.New("selftest: invalid result status")
)

// Status is the outcome a device reports for a single check.
type Status string

// Status constants.
const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusWarning Status = "warning"
)

// Severity classifies how a check's failure is treated.
type Severity string

// Severity constants. Critical failures block pairing; informational
// failures are recorded and surface as a warning health status.
const (
	SeverityCritical      Severity = "critical"
	SeverityInformational Severity = "informational"
)

// Check is one entry in a device type's battery.
type Check struct {
	Name     string
	Severity Severity
}

// Result is what a device reports for one check.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates a device's reported results against its battery.
type Report struct {
	Results          []Result
	CriticalFailures []string
	Warnings         []string
}

// Passed reports whether no critical check failed.
func (r *Report) Passed() bool {
	return len(r.CriticalFailures) == 0
}

// Degraded reports whether any informational check failed or any check
// reported a warning. A degraded device pairs with health status warning.
func (r *Report) Degraded() bool {
	return len(r.Warnings) > 0
}

// batteries holds the ordered battery per device type. Connectivity and
// basic function are critical everywhere; the rest is type-specific.
var batteries = map[device.Type][]Check{
	device.TypePrinter: {
		{Name: "connectivity", Severity: SeverityCritical},
		{Name: "basic_function", Severity: SeverityCritical},
		{Name: "paper_feed", Severity: SeverityCritical},
		{Name: "cutter", Severity: SeverityInformational},
		{Name: "print_quality", Severity: SeverityInformational},
	},
	device.TypeDisplay: {
		{Name: "connectivity", Severity: SeverityCritical},
		{Name: "basic_function", Severity: SeverityCritical},
		{Name: "render", Severity: SeverityCritical},
		{Name: "touch_input", Severity: SeverityInformational},
		{Name: "backlight", Severity: SeverityInformational},
	},
	device.TypeScanner: {
		{Name: "connectivity", Severity: SeverityCritical},
		{Name: "basic_function", Severity: SeverityCritical},
		{Name: "barcode_decode", Severity: SeverityCritical},
		{Name: "illumination", Severity: SeverityInformational},
	},
	device.TypePaymentTerminal: {
		{Name: "connectivity", Severity: SeverityCritical},
		{Name: "basic_function", Severity: SeverityCritical},
		{Name: "secure_element", Severity: SeverityCritical},
		{Name: "pin_pad", Severity: SeverityCritical},
		{Name: "card_reader", Severity: SeverityCritical},
		{Name: "receipt_printer", Severity: SeverityInformational},
	},
}

// BatteryFor returns the ordered battery for a device type.
func BatteryFor(t device.Type) ([]Check, error) {
	battery, ok := batteries[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeviceType, t)
	}
	out := make([]Check, len(battery))
	copy(out, battery)
	return out, nil
}

// Evaluate validates reported results against the device type's battery
// and aggregates them into a Report.
//
// Every check in the battery must have exactly one result; a missing
// result for a critical check counts as a failure of that check, since
// a device must not be able to pass by omission. Results for checks not
// in the battery are rejected outright.
func Evaluate(t device.Type, results []Result) (*Report, error) {
	battery, ok := batteries[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeviceType, t)
	}

	known := make(map[string]Severity, len(battery))
	for _, check := range battery {
		known[check.Name] = check.Severity
	}

	reported := make(map[string]Result, len(results))
	for _, res := range results {
		if _, ok := known[res.Name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTest, res.Name)
		}

		switch res.Status {
		case StatusPass, StatusFail, StatusWarning:
		default:
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidStatus, res.Name, res.Status)
		}
		reported[res.Name] = res
	}

	report := &Report{Results: make([]Result, 0, len(battery))}
	for _, check := range battery {
		res, ok := reported[check.Name]
		if !ok {
			res = Result{Name: check.Name, Status: StatusFail, Detail: "no result reported"}
		}
		report.Results = append(report.Results, res)

		switch {
		case res.Status == StatusFail && check.Severity == SeverityCritical:
			report.CriticalFailures = append(report.CriticalFailures, check.Name)
		case res.Status == StatusFail:
			report.Warnings = append(report.Warnings, check.Name)
		case res.Status == StatusWarning:
			report.Warnings = append(report.Warnings, check.Name)
		}
	}

	return report, nil
}
