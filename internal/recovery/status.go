package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

// Subscriber is the broker access the status listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// statusReport is the payload a device publishes on its status topic.
type statusReport struct {
	PaperStatus string `json:"paper_status"`
}

// StatusListener feeds unsolicited device status reports into the
// coordinator. A paper-out report starts recovery immediately instead
// of waiting for the next health probe; a paper-ok report outside
// recovery just corrects the registry.
type StatusListener struct {
	coord  *Coordinator
	reg    Registry
	bus    Subscriber
	topics mqtt.Topics
	logger Logger
}

// NewStatusListener creates a listener wired to the coordinator.
func NewStatusListener(coord *Coordinator, reg Registry, bus Subscriber, logger Logger) *StatusListener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatusListener{
		coord:  coord,
		reg:    reg,
		bus:    bus,
		logger: logger,
	}
}

// Start subscribes to the status wildcard. Handlers run on the broker
// client's goroutines; the context bounds registry writes.
func (l *StatusListener) Start(ctx context.Context) error {
	topic := l.topics.AllStatusReports()
	err := l.bus.Subscribe(topic, 1, func(msgTopic string, payload []byte) error {
		return l.handle(ctx, msgTopic, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribing to device status reports: %w", err)
	}
	l.logger.Info("device status listener started", "topic", topic)
	return nil
}

func (l *StatusListener) handle(ctx context.Context, topic string, payload []byte) error {
	deviceID := statusDeviceID(topic)
	if deviceID == "" {
		l.logger.Warn("dropping status report with malformed topic", "topic", topic)
		return fmt.Errorf("recovery: malformed status topic %q", topic)
	}

	var report statusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		l.logger.Warn("dropping unparseable status report",
			"device_id", deviceID, "error", err)
		return fmt.Errorf("recovery: unparseable status report: %w", err)
	}

	switch device.PaperStatus(report.PaperStatus) {
	case device.PaperOut:
		l.coord.OnPaperOut(ctx, deviceID)
	case device.PaperOK:
		// Restoration during recovery is confirmed by the poll, which
		// also drains the deferred queue. Outside recovery the report
		// just corrects the registry.
		if !l.coord.InPaperRecovery(deviceID) {
			if err := l.reg.SetPaperStatus(ctx, deviceID, device.PaperOK); err != nil {
				l.logger.Warn("failed to record paper status",
					"device_id", deviceID, "error", err)
			}
		}
	default:
		l.logger.Debug("ignoring status report without paper status",
			"device_id", deviceID)
	}
	return nil
}

// statusDeviceID extracts the device id segment from
// hardpoint/device/{id}/status.
func statusDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "status" {
		return ""
	}
	return parts[2]
}
