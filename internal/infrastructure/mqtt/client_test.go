package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/config"
)

// testConfig returns an MQTT config pointing at a broker that is not
// expected to exist. Connection-dependent tests are skipped when no
// broker is reachable.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hardpoint-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = "invalid-host-that-does-not-exist.local"
	cfg.Broker.Port = 9999

	_, err := Connect(cfg)
	if err == nil {
		t.Error("Connect() expected error for invalid broker, got nil")
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero-value client error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error when disconnected")
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
	}{
		{"empty topic", "", 1, []byte("x")},
		{"invalid qos", Topics{}.DeviceNotify("dev-1"), 3, []byte("x")},
		{"disconnected", Topics{}.DeviceNotify("dev-1"), 1, []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); err == nil {
				t.Error("Publish() expected error, got nil")
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); err == nil {
		t.Error("Subscribe() expected error for empty topic")
	}
	if err := c.Subscribe("hardpoint/discovery/announce/+", 3, handler); err == nil {
		t.Error("Subscribe() expected error for invalid QoS")
	}
	if err := c.Subscribe("hardpoint/discovery/announce/+", 1, nil); err == nil {
		t.Error("Subscribe() expected error for nil handler")
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"discovery announce", Topics{}.DiscoveryAnnounce("prn-01"), "hardpoint/discovery/announce/prn-01"},
		{"all announcements", Topics{}.AllDiscoveryAnnouncements(), "hardpoint/discovery/announce/+"},
		{"device notify", Topics{}.DeviceNotify("kds-02"), "hardpoint/device/kds-02/notify"},
		{"command", Topics{}.Command("prn-01"), "hardpoint/device/prn-01/command"},
		{"status report", Topics{}.StatusReport("prn-01"), "hardpoint/device/prn-01/status"},
		{"all status reports", Topics{}.AllStatusReports(), "hardpoint/device/+/status"},
		{"telemetry", Topics{}.Telemetry("pay-04"), "hardpoint/device/pay-04/telemetry"},
		{"all telemetry", Topics{}.AllTelemetry(), "hardpoint/device/+/telemetry"},
		{"probe request", Topics{}.ProbeRequest("scn-03"), "hardpoint/device/scn-03/probe"},
		{"probe response", Topics{}.ProbeResponse("scn-03"), "hardpoint/device/scn-03/probe/ack"},
		{"event", Topics{}.Event("device_offline"), "hardpoint/event/device_offline"},
		{"all events", Topics{}.AllEvents(), "hardpoint/event/+"},
		{"system status", Topics{}.SystemStatus(), "hardpoint/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
