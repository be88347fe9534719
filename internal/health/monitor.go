package health

import (
	"context"
	"sync"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
)

const healthCheckTask = "health_check"

// Logger is the minimal logging interface the monitor needs.
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

// Registry is the device registry access the monitor needs.
type Registry interface {
	Get(ctx context.Context, id string) (*device.Record, error)
	SetHealthStatus(ctx context.Context, id string, status device.HealthStatus) error
}

// Prober performs one health check against a device. Implementations
// combine the base connectivity probe with the device-type check and
// return an error on any failure.
type Prober interface {
	Probe(ctx context.Context, rec *device.Record) error
}

// Scheduler schedules the self-rescheduling check loop.
type Scheduler interface {
	Schedule(deviceID, name string, delay time.Duration, fn schedule.TaskFunc)
	Cancel(deviceID string) int
	CancelTask(deviceID, name string) bool
}

// OfflineHandler is told when a device exhausts its reconnection
// attempts. The recovery coordinator implements this.
type OfflineHandler interface {
	OnDeviceOffline(ctx context.Context, deviceID string)
}

// Notifier emits operator notifications.
type Notifier interface {
	NotifyOperator(event string, payload any)
}

// Telemetry records health-check outcomes for trend analysis.
// Implemented by the InfluxDB client; may be nil.
type Telemetry interface {
	WriteHealthCheck(deviceID string, success bool, latency time.Duration)
	WriteReconnectAttempt(deviceID string, attempt int, delay time.Duration)
}

// Rotator retries overdue session rotations. A rotation that failed at
// its scheduled time gets another chance at the next successful check.
type Rotator interface {
	RotateIfDue(ctx context.Context, deviceID string) (bool, error)
}

// Config holds the monitor's timing parameters.
type Config struct {
	CheckInterval time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	MaxAttempts   int
}

// DefaultConfig returns the standard timing: 30 s checks, backoff
// 5 s doubling to an 80 s cap, offline once all 5 reconnect attempts
// have failed.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		BackoffBase:   5 * time.Second,
		BackoffCap:    80 * time.Second,
		MaxAttempts:   5,
	}
}

// Monitor supervises device health.
//
// Thread Safety: all methods are safe for concurrent use.
type Monitor struct {
	registry Registry
	prober   Prober
	sched    Scheduler
	offline  OfflineHandler
	notifier Notifier
	rotator  Rotator
	telem    Telemetry
	logger   Logger
	metrics  *metrics.Metrics
	cfg      Config

	mu       sync.Mutex
	attempts map[string]int
	watched  map[string]bool
}

// Option configures optional collaborators.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithOfflineHandler sets the recovery handoff.
func WithOfflineHandler(h OfflineHandler) Option {
	return func(m *Monitor) { m.offline = h }
}

// WithNotifier sets the operator notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t Telemetry) Option {
	return func(m *Monitor) { m.telem = t }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mx }
}

// WithRotator sets the session rotation retry hook.
func WithRotator(r Rotator) Option {
	return func(m *Monitor) { m.rotator = r }
}

// NewMonitor creates a health monitor.
func NewMonitor(registry Registry, prober Prober, sched Scheduler, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		registry: registry,
		prober:   prober,
		sched:    sched,
		logger:   noopLogger{},
		cfg:      cfg,
		attempts: make(map[string]int),
		watched:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch starts the health loop for a device. Idempotent; watching an
// already-watched device resets its attempt counter.
func (m *Monitor) Watch(deviceID string) {
	m.mu.Lock()
	m.watched[deviceID] = true
	m.attempts[deviceID] = 0
	m.mu.Unlock()

	m.sched.Schedule(deviceID, healthCheckTask, m.cfg.CheckInterval, func(ctx context.Context) {
		m.check(ctx, deviceID)
	})
	m.logger.Info("health loop started", "device_id", deviceID, "interval", m.cfg.CheckInterval)
}

// Unwatch stops the device's health loop and clears its state.
func (m *Monitor) Unwatch(deviceID string) {
	m.mu.Lock()
	delete(m.watched, deviceID)
	delete(m.attempts, deviceID)
	m.mu.Unlock()

	m.sched.CancelTask(deviceID, healthCheckTask)
	m.logger.Info("health loop stopped", "device_id", deviceID)
}

// Attempts returns the device's current reconnect attempt count.
func (m *Monitor) Attempts(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[deviceID]
}

// check performs one probe and schedules the next step of the loop.
func (m *Monitor) check(ctx context.Context, deviceID string) {
	m.mu.Lock()
	if !m.watched[deviceID] {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	rec, err := m.registry.Get(ctx, deviceID)
	if err != nil {
		m.logger.Error("health check lookup failed", "device_id", deviceID, "error", err)
		return
	}
	if rec.PairingStatus != device.PairingPaired {
		// Device left the fleet between checks; let the loop die.
		m.Unwatch(deviceID)
		return
	}

	start := time.Now()
	probeErr := m.prober.Probe(ctx, rec)
	latency := time.Since(start)

	if m.telem != nil {
		m.telem.WriteHealthCheck(deviceID, probeErr == nil, latency)
	}

	if probeErr == nil {
		m.onSuccess(ctx, deviceID, rec)
		return
	}
	m.onFailure(ctx, deviceID, probeErr)
}

// onSuccess resets reconnection state and restores healthy status.
func (m *Monitor) onSuccess(ctx context.Context, deviceID string, rec *device.Record) {
	m.mu.Lock()
	hadFailures := m.attempts[deviceID] > 0
	m.attempts[deviceID] = 0
	m.mu.Unlock()

	if hadFailures || rec.HealthStatus != device.HealthHealthy {
		if err := m.registry.SetHealthStatus(ctx, deviceID, device.HealthHealthy); err != nil {
			m.logger.Error("failed to restore health status", "device_id", deviceID, "error", err)
		}
		if hadFailures {
			m.logger.Info("device recovered", "device_id", deviceID)
		}
	}

	if m.rotator != nil {
		if rotated, err := m.rotator.RotateIfDue(ctx, deviceID); err != nil {
			m.logger.Warn("rotation retry failed", "device_id", deviceID, "error", err)
		} else if rotated {
			m.logger.Info("overdue session rotated", "device_id", deviceID)
		}
	}

	m.sched.Schedule(deviceID, healthCheckTask, m.cfg.CheckInterval, func(taskCtx context.Context) {
		m.check(taskCtx, deviceID)
	})
}

// onFailure advances the backoff schedule or declares the device
// offline.
func (m *Monitor) onFailure(ctx context.Context, deviceID string, probeErr error) {
	m.mu.Lock()
	m.attempts[deviceID]++
	attempt := m.attempts[deviceID]
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.HealthChecksFailed.Inc()
	}

	// Attempts 1..MaxAttempts each get a reconnect on the backoff
	// schedule; only when the last of those also fails does the device
	// go offline.
	if attempt > m.cfg.MaxAttempts {
		m.declareOffline(ctx, deviceID, probeErr)
		return
	}

	delay := m.backoff(attempt)
	if err := m.registry.SetHealthStatus(ctx, deviceID, device.HealthError); err != nil {
		m.logger.Error("failed to set health status", "device_id", deviceID, "error", err)
	}
	if m.telem != nil {
		m.telem.WriteReconnectAttempt(deviceID, attempt, delay)
	}
	m.logger.Warn("health check failed, scheduling reconnect",
		"device_id", deviceID, "attempt", attempt, "delay", delay, "error", probeErr)

	m.sched.Schedule(deviceID, healthCheckTask, delay, func(taskCtx context.Context) {
		m.check(taskCtx, deviceID)
	})
}

// declareOffline marks the device offline, notifies the operator, and
// hands the device to the recovery coordinator. The loop stops; the
// coordinator owns the device from here.
func (m *Monitor) declareOffline(ctx context.Context, deviceID string, probeErr error) {
	if err := m.registry.SetHealthStatus(ctx, deviceID, device.HealthOffline); err != nil {
		m.logger.Error("failed to mark device offline", "device_id", deviceID, "error", err)
	}

	m.mu.Lock()
	delete(m.watched, deviceID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.DevicesOffline.Inc()
	}
	m.logger.Error("device offline after exhausted reconnects",
		"device_id", deviceID, "attempts", m.cfg.MaxAttempts, "error", probeErr)

	if m.notifier != nil {
		m.notifier.NotifyOperator("device.offline", map[string]any{
			"device_id": deviceID,
			"attempts":  m.cfg.MaxAttempts,
		})
	}
	if m.offline != nil {
		m.offline.OnDeviceOffline(ctx, deviceID)
	}
}

// backoff returns min(base * 2^(attempt-1), cap).
func (m *Monitor) backoff(attempt int) time.Duration {
	delay := m.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.BackoffCap {
			return m.cfg.BackoffCap
		}
	}
	if delay > m.cfg.BackoffCap {
		return m.cfg.BackoffCap
	}
	return delay
}
