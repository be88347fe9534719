package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

// Subscriber is the broker access the usage source needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// telemetrySample is the payload a device publishes on its telemetry
// topic. Percentages are relative to the sandbox ceiling.
type telemetrySample struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	NetworkKbps     float64 `json:"network_kbps"`
	FileDescriptors int     `json:"file_descriptors"`
	Processes       int     `json:"processes"`
}

type cachedUsage struct {
	usage Usage
	seen  time.Time
}

// MQTTUsageSource caches device-reported resource samples from the
// telemetry topic. Sample returns the latest report for a device;
// reports older than maxAge are treated as missing so a device that
// stops reporting does not pin its last reading forever.
type MQTTUsageSource struct {
	bus    Subscriber
	topics mqtt.Topics
	maxAge time.Duration
	logger Logger

	mu    sync.Mutex
	cache map[string]cachedUsage
	now   func() time.Time
}

// NewMQTTUsageSource creates a usage source fed by device telemetry.
func NewMQTTUsageSource(bus Subscriber, maxAge time.Duration, logger Logger) *MQTTUsageSource {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTUsageSource{
		bus:    bus,
		maxAge: maxAge,
		logger: logger,
		cache:  make(map[string]cachedUsage),
		now:    time.Now,
	}
}

// Start subscribes to the telemetry wildcard. Handlers run on the
// broker client's goroutines.
func (s *MQTTUsageSource) Start(ctx context.Context) error {
	topic := s.topics.AllTelemetry()
	err := s.bus.Subscribe(topic, 0, func(msgTopic string, payload []byte) error {
		return s.handle(msgTopic, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribing to device telemetry: %w", err)
	}
	s.logger.Info("telemetry usage source started", "topic", topic)
	return nil
}

// Sample returns the device's most recent telemetry reading.
func (s *MQTTUsageSource) Sample(ctx context.Context, deviceID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[deviceID]
	if !ok {
		return Usage{}, fmt.Errorf("sandbox: no telemetry for device %s", deviceID)
	}
	if age := s.now().Sub(entry.seen); age > s.maxAge {
		delete(s.cache, deviceID)
		return Usage{}, fmt.Errorf("sandbox: telemetry for device %s stale by %s", deviceID, age)
	}
	return entry.usage, nil
}

func (s *MQTTUsageSource) handle(topic string, payload []byte) error {
	deviceID := telemetryDeviceID(topic)
	if deviceID == "" {
		s.logger.Warn("dropping telemetry with malformed topic", "topic", topic)
		return fmt.Errorf("sandbox: malformed telemetry topic %q", topic)
	}

	var sample telemetrySample
	if err := json.Unmarshal(payload, &sample); err != nil {
		s.logger.Warn("dropping unparseable telemetry",
			"device_id", deviceID, "error", err)
		return fmt.Errorf("sandbox: unparseable telemetry: %w", err)
	}

	s.mu.Lock()
	// Reports from devices that stopped sampling (decommissioned,
	// quarantined) age out here rather than accumulating.
	now := s.now()
	for id, entry := range s.cache {
		if now.Sub(entry.seen) > s.maxAge {
			delete(s.cache, id)
		}
	}
	s.cache[deviceID] = cachedUsage{
		usage: Usage{
			CPUPercent:      sample.CPUPercent,
			MemoryPercent:   sample.MemoryPercent,
			NetworkKbps:     sample.NetworkKbps,
			FileDescriptors: sample.FileDescriptors,
			Processes:       sample.Processes,
		},
		seen: now,
	}
	s.mu.Unlock()
	return nil
}

// telemetryDeviceID extracts the device id segment from
// hardpoint/device/{id}/telemetry.
func telemetryDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "telemetry" {
		return ""
	}
	return parts[2]
}
