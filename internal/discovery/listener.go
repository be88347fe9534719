package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

// ErrMalformedAnnouncement indicates an announcement payload that could
// not be parsed or failed validation.
var ErrMalformedAnnouncement = errors.New("discovery: malformed announcement")

// Logger is the minimal logging interface the listener needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the device registry access the listener needs.
type Registry interface {
	Upsert(ctx context.Context, rec *device.Record) error
}

// Subscriber is the broker access the listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Announcement is the payload a device publishes on its discovery
// topic.
type Announcement struct {
	DeviceID     string   `json:"device_id"`
	Type         string   `json:"device_type"`
	MAC          string   `json:"mac"`
	IP           string   `json:"ip"`
	Capabilities []string `json:"capabilities"`
}

// Listener subscribes to device announcements and feeds the registry.
type Listener struct {
	registry Registry
	bus      Subscriber
	topics   mqtt.Topics
	tenantID string
	logger   Logger
}

// NewListener creates a discovery listener for the tenant.
func NewListener(registry Registry, bus Subscriber, tenantID string, logger Logger) *Listener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Listener{
		registry: registry,
		bus:      bus,
		tenantID: tenantID,
		logger:   logger,
	}
}

// Start subscribes to the announcement wildcard. Handlers run on the
// broker client's goroutines; the context bounds registry writes.
func (l *Listener) Start(ctx context.Context) error {
	topic := l.topics.AllDiscoveryAnnouncements()
	err := l.bus.Subscribe(topic, 1, func(msgTopic string, payload []byte) error {
		return l.handle(ctx, msgTopic, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribing to discovery announcements: %w", err)
	}
	l.logger.Info("discovery listener started", "topic", topic)
	return nil
}

// handle processes one announcement.
func (l *Listener) handle(ctx context.Context, topic string, payload []byte) error {
	var ann Announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		l.logger.Warn("dropping unparseable announcement", "topic", topic, "error", err)
		return fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}

	// The topic's device id segment is authoritative; a payload that
	// disagrees is dropped.
	topicID := deviceIDFromTopic(topic)
	if topicID == "" || (ann.DeviceID != "" && ann.DeviceID != topicID) {
		l.logger.Warn("dropping announcement with mismatched device id",
			"topic", topic, "payload_id", ann.DeviceID)
		return fmt.Errorf("%w: device id mismatch", ErrMalformedAnnouncement)
	}

	capabilities := make([]device.Capability, 0, len(ann.Capabilities))
	for _, c := range ann.Capabilities {
		capabilities = append(capabilities, device.Capability(c))
	}

	rec := &device.Record{
		ID:           topicID,
		TenantID:     l.tenantID,
		Type:         device.Type(ann.Type),
		MAC:          ann.MAC,
		LastIP:       ann.IP,
		Capabilities: capabilities,
	}
	if err := l.registry.Upsert(ctx, rec); err != nil {
		l.logger.Warn("dropping invalid announcement",
			"device_id", topicID, "error", err)
		return fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}

	l.logger.Debug("device announced",
		"device_id", topicID, "type", ann.Type, "ip", ann.IP)
	return nil
}

// deviceIDFromTopic extracts the trailing device id segment.
func deviceIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
