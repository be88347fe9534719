package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/session"
)

var (
	// ErrTokenMismatch indicates the action token was minted for a
	// different device or operation than the command names.
	ErrTokenMismatch = errors.New("command: token does not match command")
)

// Logger is the minimal logging interface the gateway needs.
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

// TokenConsumer validates and burns single-use action tokens.
type TokenConsumer interface {
	ConsumeActionToken(ctx context.Context, tokenString string) (*session.Claims, error)
}

// Admitter answers whether the device's sandbox accepts work.
type Admitter interface {
	Admit(deviceID string) error
}

// Registry is the device registry access the gateway needs.
type Registry interface {
	Get(ctx context.Context, id string) (*device.Record, error)
}

// Deferrer queues jobs the device cannot take right now.
type Deferrer interface {
	DeferJob(ctx context.Context, deviceID, operation string, payload []byte) (int64, error)
}

// Dispatcher delivers an admitted command to the device.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID, operation string, payload []byte) error
}

// Request is one device command with its authorizing token.
type Request struct {
	DeviceID    string
	Operation   string
	Payload     []byte
	ActionToken string
}

// Result reports what the gateway did with the command.
type Result struct {
	// Status is "dispatched" or "deferred".
	Status string
	// Seq is the queue position when the command was deferred.
	Seq int64
}

// deferrableOnPaperOut lists operations queued instead of rejected
// while a printer has no paper.
var deferrableOnPaperOut = map[string]bool{
	"print_receipt": true,
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway's logger.
func WithLogger(logger Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics attaches command outcome counters.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = mx }
}

// WithDeferrer enables paper-out queuing.
func WithDeferrer(d Deferrer) Option {
	return func(g *Gateway) { g.deferrer = d }
}

// Gateway runs the admission path for device commands.
//
// Thread Safety: safe for concurrent use; all state lives in the
// collaborators.
type Gateway struct {
	sessions   TokenConsumer
	sandboxes  Admitter
	registry   Registry
	dispatcher Dispatcher
	deferrer   Deferrer
	logger     Logger
	metrics    *metrics.Metrics
}

// NewGateway creates a command gateway.
func NewGateway(sessions TokenConsumer, sandboxes Admitter, registry Registry,
	dispatcher Dispatcher, opts ...Option) *Gateway {

	g := &Gateway{
		sessions:   sessions,
		sandboxes:  sandboxes,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs one command through token consumption, sandbox
// admission, and dispatch. The token is consumed before admission, so
// a rejected command burns its token and cannot be replayed.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Result, error) {
	claims, err := g.sessions.ConsumeActionToken(ctx, req.ActionToken)
	if err != nil {
		g.count("rejected")
		return nil, err
	}
	if claims.DeviceID != req.DeviceID || claims.ActionType != req.Operation {
		g.count("rejected")
		g.logger.Warn("action token mismatch",
			"device_id", req.DeviceID, "operation", req.Operation,
			"token_device", claims.DeviceID, "token_action", claims.ActionType)
		return nil, ErrTokenMismatch
	}

	if err := g.sandboxes.Admit(req.DeviceID); err != nil {
		g.count("rejected")
		return nil, err
	}

	rec, err := g.registry.Get(ctx, req.DeviceID)
	if err != nil {
		g.count("rejected")
		return nil, err
	}

	if g.deferrer != nil && rec.Type == device.TypePrinter &&
		rec.PaperStatus == device.PaperOut && deferrableOnPaperOut[req.Operation] {
		seq, err := g.deferrer.DeferJob(ctx, req.DeviceID, req.Operation, req.Payload)
		if err != nil {
			g.count("rejected")
			return nil, fmt.Errorf("deferring command: %w", err)
		}
		g.count("deferred")
		g.logger.Info("command deferred until paper restored",
			"device_id", req.DeviceID, "operation", req.Operation, "seq", seq)
		return &Result{Status: "deferred", Seq: seq}, nil
	}

	if err := g.dispatcher.Dispatch(ctx, req.DeviceID, req.Operation, req.Payload); err != nil {
		g.count("rejected")
		return nil, err
	}
	g.count("dispatched")
	g.logger.Debug("command dispatched",
		"device_id", req.DeviceID, "operation", req.Operation)
	return &Result{Status: "dispatched"}, nil
}

func (g *Gateway) count(outcome string) {
	if g.metrics != nil {
		g.metrics.CommandsHandled.WithLabelValues(outcome).Inc()
	}
}
