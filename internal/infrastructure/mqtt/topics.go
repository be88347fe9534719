package mqtt

import "fmt"

// Topic prefixes for the Hardpoint message bus.
//
// Scheme: hardpoint/{category}/... where devices publish announcements
// and probe responses, and the control plane publishes events and
// notifications.
const (
	// TopicPrefix is the base for all Hardpoint topics.
	TopicPrefix = "hardpoint"

	// TopicPrefixSystem is the base for control-plane status topics.
	TopicPrefixSystem = "hardpoint/system"
)

// Topics provides builders for Hardpoint MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.DeviceNotify("prn-lobby-01")
//	// Returns: "hardpoint/device/prn-lobby-01/notify"
type Topics struct{}

// DiscoveryAnnounce returns the topic a device publishes its capability
// announcement on.
//
// Example: hardpoint/discovery/announce/prn-lobby-01
func (Topics) DiscoveryAnnounce(deviceID string) string {
	return fmt.Sprintf("%s/discovery/announce/%s", TopicPrefix, deviceID)
}

// AllDiscoveryAnnouncements returns the wildcard subscription covering every
// device's capability announcement.
func (Topics) AllDiscoveryAnnouncements() string {
	return fmt.Sprintf("%s/discovery/announce/+", TopicPrefix)
}

// DeviceNotify returns the topic for best-effort control-plane notifications
// to a single device (session revoked, rotation available, re-pair required).
//
// Example: hardpoint/device/prn-lobby-01/notify
func (Topics) DeviceNotify(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/notify", TopicPrefix, deviceID)
}

// Command returns the topic the control plane dispatches device commands on.
//
// Example: hardpoint/device/prn-lobby-01/command
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/command", TopicPrefix, deviceID)
}

// StatusReport returns the topic a device publishes unsolicited status
// changes on (paper out, paper restored).
//
// Example: hardpoint/device/prn-lobby-01/status
func (Topics) StatusReport(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, deviceID)
}

// AllStatusReports returns the wildcard subscription covering every
// device's status reports.
func (Topics) AllStatusReports() string {
	return fmt.Sprintf("%s/device/+/status", TopicPrefix)
}

// Telemetry returns the topic a device publishes resource usage
// samples on.
//
// Example: hardpoint/device/prn-lobby-01/telemetry
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/telemetry", TopicPrefix, deviceID)
}

// AllTelemetry returns the wildcard subscription covering every
// device's telemetry samples.
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/device/+/telemetry", TopicPrefix)
}

// ProbeRequest returns the topic for health probe requests to a device.
//
// Example: hardpoint/device/prn-lobby-01/probe
func (Topics) ProbeRequest(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/probe", TopicPrefix, deviceID)
}

// ProbeResponse returns the topic a device answers health probes on.
//
// Example: hardpoint/device/prn-lobby-01/probe/ack
func (Topics) ProbeResponse(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/probe/ack", TopicPrefix, deviceID)
}

// Event returns the topic for control-plane events consumed by collaborator
// systems (webhook relays, operator dashboards).
//
// Event types: paper_status_changed, device_offline, session_revoked,
// sandbox_terminated.
//
// Example: hardpoint/event/device_offline
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// AllEvents returns the wildcard subscription covering every event type.
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefix)
}

// SystemStatus returns the retained topic carrying the control plane's
// own online/offline status (also used for the LWT).
//
// Example: hardpoint/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
