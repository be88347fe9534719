package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/logging"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

// EventPublisher is the broker access the notifier needs.
type EventPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Notifier fans operator events out to WebSocket subscribers and the
// broker's event topics, and delivers per-device notifications on the
// device's notify topic.
//
// It satisfies the Notifier interfaces of the session, health,
// recovery, and sandbox packages.
type Notifier struct {
	hub    *Hub
	bus    EventPublisher
	topics mqtt.Topics
	logger *logging.Logger
}

// NewNotifier creates a notifier. Either the hub or the bus may be nil;
// the corresponding delivery path is skipped.
func NewNotifier(hub *Hub, bus EventPublisher, logger *logging.Logger) *Notifier {
	return &Notifier{hub: hub, bus: bus, logger: logger}
}

// NotifyOperator broadcasts an event to operator dashboards and
// publishes it on the broker's event topic for webhook relays.
func (n *Notifier) NotifyOperator(event string, payload any) {
	if n.hub != nil {
		n.hub.Broadcast(event, payload)
	}
	if n.bus == nil {
		return
	}

	body := map[string]any{
		"event":     event,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		n.logger.Error("marshalling operator event failed", "event", event, "error", err)
		return
	}
	if err := n.bus.Publish(n.topics.Event(eventTopicName(event)), data, 1, false); err != nil {
		n.logger.Warn("publishing operator event failed", "event", event, "error", err)
	}
}

// NotifyDevice publishes a best-effort notification on the device's
// notify topic (session revoked, rotation available, re-pair required).
func (n *Notifier) NotifyDevice(deviceID, event string, payload any) error {
	if n.bus == nil {
		return nil
	}

	body := map[string]any{
		"event":     event,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling device notification: %w", err)
	}
	if err := n.bus.Publish(n.topics.DeviceNotify(deviceID), data, 1, false); err != nil {
		return fmt.Errorf("publishing device notification: %w", err)
	}
	return nil
}

// eventTopicName flattens a dotted event name into its topic segment.
//
// "device.offline" becomes "device_offline" to match the broker's
// event topic scheme.
func eventTopicName(event string) string {
	out := make([]byte, len(event))
	for i := 0; i < len(event); i++ {
		if event[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = event[i]
		}
	}
	return string(out)
}
