package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
)

type fakeStatusBus struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
}

func (b *fakeStatusBus) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.topic = topic
	b.qos = qos
	b.handler = handler
	return nil
}

func statusFixture(t *testing.T) (*fakeStatusBus, *mockRegistry, *Coordinator, *manualScheduler) {
	t.Helper()
	reg := newMockRegistry(&device.Record{
		ID:            "prn-lobby-01",
		Type:          device.TypePrinter,
		PairingStatus: device.PairingPaired,
		PaperStatus:   device.PaperOK,
	})
	sched := newManualScheduler()
	coord := NewCoordinator(reg, NewSQLiteJobRepository(setupTestDB(t)), &stubPaper{}, &stubProber{},
		&stubSessions{alive: true}, sched, Config{
			PaperPollInterval: 10 * time.Second,
			PaperPollTimeout:  time.Hour,
			ReconnectInterval: time.Minute,
		})

	bus := &fakeStatusBus{}
	listener := NewStatusListener(coord, reg, bus, nil)
	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return bus, reg, coord, sched
}

func TestStatusListenerSubscribesWildcard(t *testing.T) {
	bus, _, _, _ := statusFixture(t)

	if bus.topic != "hardpoint/device/+/status" {
		t.Errorf("topic = %q, want hardpoint/device/+/status", bus.topic)
	}
	if bus.qos != 1 {
		t.Errorf("qos = %d, want 1", bus.qos)
	}
}

func TestStatusListenerPaperOutStartsRecovery(t *testing.T) {
	bus, reg, coord, sched := statusFixture(t)

	err := bus.handler("hardpoint/device/prn-lobby-01/status", []byte(`{"paper_status": "out"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	if !coord.InPaperRecovery("prn-lobby-01") {
		t.Error("expected device in paper recovery")
	}
	rec, _ := reg.Get(context.Background(), "prn-lobby-01")
	if rec.PaperStatus != device.PaperOut {
		t.Errorf("paper status = %q, want %q", rec.PaperStatus, device.PaperOut)
	}
	if !sched.has("prn-lobby-01", "paper_poll") {
		t.Error("expected paper poll scheduled")
	}
}

func TestStatusListenerPaperOKOutsideRecoveryCorrectsRegistry(t *testing.T) {
	bus, reg, _, _ := statusFixture(t)

	reg.records["prn-lobby-01"].PaperStatus = device.PaperOut
	err := bus.handler("hardpoint/device/prn-lobby-01/status", []byte(`{"paper_status": "ok"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec, _ := reg.Get(context.Background(), "prn-lobby-01")
	if rec.PaperStatus != device.PaperOK {
		t.Errorf("paper status = %q, want %q", rec.PaperStatus, device.PaperOK)
	}
}

func TestStatusListenerPaperOKDuringRecoveryLeftToPoll(t *testing.T) {
	bus, reg, coord, _ := statusFixture(t)

	if err := bus.handler("hardpoint/device/prn-lobby-01/status", []byte(`{"paper_status": "out"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := bus.handler("hardpoint/device/prn-lobby-01/status", []byte(`{"paper_status": "ok"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	// The poll owns restoration so the deferred queue drains with it.
	if !coord.InPaperRecovery("prn-lobby-01") {
		t.Error("expected recovery to continue until the poll confirms")
	}
	rec, _ := reg.Get(context.Background(), "prn-lobby-01")
	if rec.PaperStatus != device.PaperOut {
		t.Errorf("paper status = %q, want %q until the poll confirms", rec.PaperStatus, device.PaperOut)
	}
}

func TestStatusListenerRejectsMalformedReports(t *testing.T) {
	bus, _, coord, _ := statusFixture(t)

	if err := bus.handler("hardpoint/device/prn-lobby-01/status", []byte("not json")); err == nil {
		t.Error("expected error for unparseable payload")
	}
	if err := bus.handler("hardpoint/weird/topic", []byte(`{"paper_status": "out"}`)); err == nil {
		t.Error("expected error for malformed topic")
	}
	if coord.InPaperRecovery("prn-lobby-01") {
		t.Error("malformed reports must not start recovery")
	}
}
