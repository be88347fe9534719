// Package mqtt provides MQTT client connectivity for Hardpoint Core.
//
// Hardpoint uses MQTT as the message bus between the control plane and the
// field devices it supervises:
//
//	Hardpoint Core ↔ MQTT Broker ↔ Field Devices (printers, displays,
//	scanners, payment terminals)
//
// Inbound traffic is passive capability announcements
// (hardpoint/discovery/announce/+) and health probe responses. Outbound
// traffic is best-effort device notifications, probe requests, and
// webhook-style control-plane events (hardpoint/event/+).
//
// The client wraps paho.mqtt.golang with:
//   - Connection management and automatic reconnection with backoff
//   - Subscription tracking with restoration on reconnect
//   - Last Will and Testament for crash detection
//   - Panic-safe message handlers
//
// All methods are safe for concurrent use.
package mqtt
