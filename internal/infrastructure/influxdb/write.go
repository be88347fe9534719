package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteHealthCheck records the outcome and latency of a single device
// health check.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device the check ran against
//   - success: Whether the probe succeeded
//   - latency: Round-trip time of the probe
func (c *Client) WriteHealthCheck(deviceID string, success bool, latency time.Duration) {
	if c == nil || !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"health_checks",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"success":    success,
			"latency_ms": float64(latency.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSandboxSample records one resource usage sample for a device sandbox.
//
// Samples are taken by the sandbox monitor loop every few seconds; this is
// the raw feed behind resource-ceiling dashboards.
func (c *Client) WriteSandboxSample(deviceID, sandboxID string, cpuPercent, memoryPercent, networkKbps float64) {
	if c == nil || !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sandbox_usage",
		map[string]string{
			"device_id":  deviceID,
			"sandbox_id": sandboxID,
		},
		map[string]interface{}{
			"cpu_percent":    cpuPercent,
			"memory_percent": memoryPercent,
			"network_kbps":   networkKbps,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteReconnectAttempt records a reconnection attempt and its backoff delay.
// Useful for spotting devices stuck in reconnect churn.
func (c *Client) WriteReconnectAttempt(deviceID string, attempt int, delay time.Duration) {
	if c == nil || !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"reconnect_attempts",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": float64(delay.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
