package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

// ErrProbeTimeout indicates the device did not acknowledge a probe in
// time.
var ErrProbeTimeout = errors.New("health: probe timed out")

// MQTTBus is the broker access the prober needs.
type MQTTBus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// probeRequest is published to the device's probe topic. Kind selects
// the device-type check the device must run alongside connectivity.
type probeRequest struct {
	ProbeID string `json:"probe_id"`
	Kind    string `json:"kind"`
	SentAt  string `json:"sent_at"`
}

// probeAck is what the device publishes back. Printers include their
// consumable state in paper probe acks.
type probeAck struct {
	ProbeID     string `json:"probe_id"`
	OK          bool   `json:"ok"`
	Detail      string `json:"detail,omitempty"`
	PaperStatus string `json:"paper_status,omitempty"`
}

// probeKinds maps device types to their type-specific check.
var probeKinds = map[device.Type]string{
	device.TypePrinter:         "paper_and_jam",
	device.TypeDisplay:         "render_ack",
	device.TypeScanner:         "decode_ping",
	device.TypePaymentTerminal: "secure_channel",
}

// MQTTProber probes devices over the broker: a request is published to
// the device's probe topic and the probe succeeds when the matching ack
// arrives before the timeout.
//
// Thread Safety: safe for concurrent use; concurrent probes to the same
// device are correlated by probe id.
type MQTTProber struct {
	bus     MQTTBus
	topics  mqtt.Topics
	timeout time.Duration

	mu         sync.Mutex
	pending    map[string]chan probeAck
	subscribed map[string]bool
}

// NewMQTTProber creates a prober with the given per-probe timeout.
func NewMQTTProber(bus MQTTBus, timeout time.Duration) *MQTTProber {
	return &MQTTProber{
		bus:        bus,
		timeout:    timeout,
		pending:    make(map[string]chan probeAck),
		subscribed: make(map[string]bool),
	}
}

// Probe publishes a probe request and waits for the device's ack.
func (p *MQTTProber) Probe(ctx context.Context, rec *device.Record) error {
	ack, err := p.exchange(ctx, rec.ID, probeKinds[rec.Type])
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("health: probe failed: %s", ack.Detail)
	}
	return nil
}

// CheckPaper asks a printer for its consumable state via a paper probe
// and returns the reported status. A missing status on an OK ack is
// treated as paper present.
func (p *MQTTProber) CheckPaper(ctx context.Context, deviceID string) (device.PaperStatus, error) {
	ack, err := p.exchange(ctx, deviceID, "paper_and_jam")
	if err != nil {
		return "", err
	}
	switch device.PaperStatus(ack.PaperStatus) {
	case device.PaperOut:
		return device.PaperOut, nil
	default:
		return device.PaperOK, nil
	}
}

// exchange publishes one probe request and waits for the matching ack.
func (p *MQTTProber) exchange(ctx context.Context, deviceID, kind string) (*probeAck, error) {
	if err := p.ensureSubscribed(deviceID); err != nil {
		return nil, err
	}

	req := probeRequest{
		ProbeID: uuid.NewString(),
		Kind:    kind,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling probe request: %w", err)
	}

	ackCh := make(chan probeAck, 1)
	p.mu.Lock()
	p.pending[req.ProbeID] = ackCh
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, req.ProbeID)
		p.mu.Unlock()
	}()

	if err := p.bus.Publish(p.topics.ProbeRequest(deviceID), payload, 1, false); err != nil {
		return nil, fmt.Errorf("publishing probe: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		return &ack, nil
	case <-timer.C:
		return nil, ErrProbeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureSubscribed subscribes once to the device's ack topic.
func (p *MQTTProber) ensureSubscribed(deviceID string) error {
	p.mu.Lock()
	already := p.subscribed[deviceID]
	p.mu.Unlock()
	if already {
		return nil
	}

	err := p.bus.Subscribe(p.topics.ProbeResponse(deviceID), 1, func(_ string, payload []byte) error {
		var ack probeAck
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("unmarshalling probe ack: %w", err)
		}
		p.mu.Lock()
		ch, ok := p.pending[ack.ProbeID]
		p.mu.Unlock()
		if ok {
			select {
			case ch <- ack:
			default:
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to probe acks: %w", err)
	}

	p.mu.Lock()
	p.subscribed[deviceID] = true
	p.mu.Unlock()
	return nil
}
