// Package selftest defines the hardware self-test batteries that gate
// pairing.
//
// Each device type has an ordered battery of named checks, tagged either
// critical or informational. Devices execute the battery locally and
// report results when they respond to a pairing challenge; this package
// validates the reported results against the expected battery and
// aggregates them into a report. Whether a report blocks pairing is
// policy, and policy lives with the pairing orchestrator, not here.
package selftest
