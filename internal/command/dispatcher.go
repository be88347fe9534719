package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

// Publisher is the broker access the dispatcher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// envelope is the wire frame published on the device's command topic.
type envelope struct {
	Operation    string          `json:"operation"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	DispatchedAt string          `json:"dispatched_at"`
}

// MQTTDispatcher delivers commands to devices over the broker.
type MQTTDispatcher struct {
	bus    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewMQTTDispatcher creates a dispatcher publishing at the given QoS.
func NewMQTTDispatcher(bus Publisher, qos byte) *MQTTDispatcher {
	return &MQTTDispatcher{bus: bus, qos: qos}
}

// Dispatch publishes one command to the device's command topic.
func (d *MQTTDispatcher) Dispatch(_ context.Context, deviceID, operation string, payload []byte) error {
	env := envelope{
		Operation:    operation,
		Payload:      payload,
		DispatchedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling command envelope: %w", err)
	}
	if err := d.bus.Publish(d.topics.Command(deviceID), data, d.qos, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}
	return nil
}
