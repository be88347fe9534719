package command

import (
	"context"
	"errors"
	"testing"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/sandbox"
	"github.com/oakline-systems/hardpoint-core/internal/session"
)

type fakeConsumer struct {
	claims *session.Claims
	err    error
	burned int
}

func (f *fakeConsumer) ConsumeActionToken(context.Context, string) (*session.Claims, error) {
	f.burned++
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

type fakeAdmitter struct{ err error }

func (f *fakeAdmitter) Admit(string) error { return f.err }

type fakeRegistry struct{ rec *device.Record }

func (f *fakeRegistry) Get(context.Context, string) (*device.Record, error) {
	if f.rec == nil {
		return nil, device.ErrNotFound
	}
	return f.rec, nil
}

type fakeDeferrer struct {
	seq   int64
	calls int
}

func (f *fakeDeferrer) DeferJob(context.Context, string, string, []byte) (int64, error) {
	f.calls++
	return f.seq, nil
}

type fakeDispatcher struct {
	calls int
	err   error
}

func (f *fakeDispatcher) Dispatch(context.Context, string, string, []byte) error {
	f.calls++
	return f.err
}

func claimsFor(deviceID, action string) *session.Claims {
	return &session.Claims{DeviceID: deviceID, ActionType: action, Kind: "action", SingleUse: true}
}

func TestExecute_Dispatches(t *testing.T) {
	disp := &fakeDispatcher{}
	g := NewGateway(
		&fakeConsumer{claims: claimsFor("prn-1", "print_receipt")},
		&fakeAdmitter{},
		&fakeRegistry{rec: &device.Record{ID: "prn-1", Type: device.TypePrinter, PaperStatus: device.PaperOK}},
		disp,
	)

	res, err := g.Execute(context.Background(), Request{
		DeviceID: "prn-1", Operation: "print_receipt", ActionToken: "tok",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != "dispatched" {
		t.Errorf("Status = %q, want dispatched", res.Status)
	}
	if disp.calls != 1 {
		t.Errorf("dispatch calls = %d, want 1", disp.calls)
	}
}

func TestExecute_DefersPrintWhilePaperOut(t *testing.T) {
	disp := &fakeDispatcher{}
	def := &fakeDeferrer{seq: 7}
	g := NewGateway(
		&fakeConsumer{claims: claimsFor("prn-1", "print_receipt")},
		&fakeAdmitter{},
		&fakeRegistry{rec: &device.Record{ID: "prn-1", Type: device.TypePrinter, PaperStatus: device.PaperOut}},
		disp,
		WithDeferrer(def),
	)

	res, err := g.Execute(context.Background(), Request{
		DeviceID: "prn-1", Operation: "print_receipt", ActionToken: "tok",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != "deferred" || res.Seq != 7 {
		t.Errorf("result = %+v, want deferred seq 7", res)
	}
	if disp.calls != 0 {
		t.Errorf("dispatch calls = %d, want 0", disp.calls)
	}
	if def.calls != 1 {
		t.Errorf("defer calls = %d, want 1", def.calls)
	}
}

func TestExecute_NonPrintOpsDispatchDespitePaperOut(t *testing.T) {
	disp := &fakeDispatcher{}
	def := &fakeDeferrer{}
	g := NewGateway(
		&fakeConsumer{claims: claimsFor("prn-1", "open_drawer")},
		&fakeAdmitter{},
		&fakeRegistry{rec: &device.Record{ID: "prn-1", Type: device.TypePrinter, PaperStatus: device.PaperOut}},
		disp,
		WithDeferrer(def),
	)

	res, err := g.Execute(context.Background(), Request{
		DeviceID: "prn-1", Operation: "open_drawer", ActionToken: "tok",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != "dispatched" {
		t.Errorf("Status = %q, want dispatched", res.Status)
	}
	if def.calls != 0 {
		t.Errorf("defer calls = %d, want 0", def.calls)
	}
}

func TestExecute_TokenMismatch(t *testing.T) {
	tests := []struct {
		name   string
		claims *session.Claims
	}{
		{"wrong device", claimsFor("prn-other", "print_receipt")},
		{"wrong action", claimsFor("prn-1", "open_drawer")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp := &fakeDispatcher{}
			g := NewGateway(&fakeConsumer{claims: tt.claims}, &fakeAdmitter{},
				&fakeRegistry{rec: &device.Record{ID: "prn-1", Type: device.TypePrinter}}, disp)

			_, err := g.Execute(context.Background(), Request{
				DeviceID: "prn-1", Operation: "print_receipt", ActionToken: "tok",
			})
			if !errors.Is(err, ErrTokenMismatch) {
				t.Fatalf("error = %v, want ErrTokenMismatch", err)
			}
			if disp.calls != 0 {
				t.Errorf("dispatch calls = %d, want 0", disp.calls)
			}
		})
	}
}

func TestExecute_ConsumedTokenRejected(t *testing.T) {
	g := NewGateway(&fakeConsumer{err: session.ErrActionTokenConsumed}, &fakeAdmitter{},
		&fakeRegistry{}, &fakeDispatcher{})

	_, err := g.Execute(context.Background(), Request{
		DeviceID: "prn-1", Operation: "print_receipt", ActionToken: "tok",
	})
	if !errors.Is(err, session.ErrActionTokenConsumed) {
		t.Fatalf("error = %v, want ErrActionTokenConsumed", err)
	}
}

func TestExecute_QuarantineBlocksAndBurnsToken(t *testing.T) {
	consumer := &fakeConsumer{claims: claimsFor("prn-1", "print_receipt")}
	disp := &fakeDispatcher{}
	g := NewGateway(consumer, &fakeAdmitter{err: sandbox.ErrQuarantined},
		&fakeRegistry{rec: &device.Record{ID: "prn-1", Type: device.TypePrinter}}, disp)

	_, err := g.Execute(context.Background(), Request{
		DeviceID: "prn-1", Operation: "print_receipt", ActionToken: "tok",
	})
	if !errors.Is(err, sandbox.ErrQuarantined) {
		t.Fatalf("error = %v, want ErrQuarantined", err)
	}
	if consumer.burned != 1 {
		t.Errorf("token consumed %d times, want 1", consumer.burned)
	}
	if disp.calls != 0 {
		t.Errorf("dispatch calls = %d, want 0", disp.calls)
	}
}
