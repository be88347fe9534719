// Package influxdb provides time-series telemetry for Hardpoint Core.
//
// The control plane records operational telemetry here: health-check
// latencies and outcomes per device, and sandbox resource samples
// (CPU, memory, network). This data backs capacity dashboards and
// post-incident analysis; it is never consulted on the request path.
//
// Writes are non-blocking and batched; if InfluxDB is disabled in config
// or unreachable, callers are expected to treat telemetry as optional.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    client = nil // telemetry off
//	}
//	client.WriteHealthCheck("prn-01", true, 42*time.Millisecond)
package influxdb
