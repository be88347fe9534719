package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
)

const monitorTask = "sandbox_sample"

// State is the sandbox lifecycle state.
type State string

// State constants.
const (
	StateActive      State = "active"
	StateThrottled   State = "throttled"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

// Instance is one device's execution context. Ceilings are fixed at
// creation.
type Instance struct {
	ID        string
	DeviceID  string
	Profile   Profile
	State     State
	CreatedAt time.Time
}

// Usage is one resource sample, each value expressed as percent of the
// sandbox's ceiling except the raw counters.
type Usage struct {
	CPUPercent      float64
	MemoryPercent   float64
	NetworkKbps     float64
	FileDescriptors int
	Processes       int
}

// peak returns the highest ceiling-relative value in the sample.
func (u Usage) peak() float64 {
	if u.CPUPercent > u.MemoryPercent {
		return u.CPUPercent
	}
	return u.MemoryPercent
}

// UsageSource samples a device sandbox's resource usage.
type UsageSource interface {
	Sample(ctx context.Context, deviceID string) (Usage, error)
}

// Logger is the minimal logging interface the manager needs.
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

// Scheduler schedules the sampling loop.
type Scheduler interface {
	Schedule(deviceID, name string, delay time.Duration, fn schedule.TaskFunc)
	CancelTask(deviceID, name string) bool
}

// Telemetry records usage samples. Implemented by the InfluxDB client;
// may be nil.
type Telemetry interface {
	WriteSandboxSample(deviceID, sandboxID string, cpuPercent, memoryPercent, networkKbps float64)
}

// Notifier emits operator notifications.
type Notifier interface {
	NotifyOperator(event string, payload any)
}

// Config holds the manager's sampling parameters. Thresholds are
// percent of ceiling.
type Config struct {
	MonitorInterval   time.Duration
	SevereThreshold   float64
	ModerateThreshold float64
}

// DefaultConfig returns the standard sampling: every 10 s, severe at
// 95%, moderate at 80%.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:   10 * time.Second,
		SevereThreshold:   95,
		ModerateThreshold: 80,
	}
}

// Manager owns all sandbox instances and the quarantine set.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	usage    UsageSource
	sched    Scheduler
	telem    Telemetry
	notifier Notifier
	logger   Logger
	metrics  *metrics.Metrics
	cfg      Config

	mu          sync.Mutex
	instances   map[string]*Instance
	quarantined map[string]string
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t Telemetry) Option {
	return func(m *Manager) { m.telem = t }
}

// WithNotifier sets the operator notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager creates a sandbox manager.
func NewManager(usage UsageSource, sched Scheduler, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		usage:       usage,
		sched:       sched,
		logger:      noopLogger{},
		cfg:         cfg,
		instances:   make(map[string]*Instance),
		quarantined: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Provision creates the device's sandbox and starts its monitoring
// loop. Pairing clears any standing quarantine; the operator's explicit
// re-pair is the sanctioned way out of it.
func (m *Manager) Provision(ctx context.Context, rec *device.Record) error {
	m.mu.Lock()
	if existing, ok := m.instances[rec.ID]; ok &&
		existing.State != StateTerminated {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyProvisioned, rec.ID)
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		DeviceID:  rec.ID,
		Profile:   ProfileFor(rec.Type),
		State:     StateActive,
		CreatedAt: time.Now(),
	}
	m.instances[rec.ID] = inst
	delete(m.quarantined, rec.ID)
	m.mu.Unlock()

	if m.sched != nil {
		m.scheduleSample(rec.ID)
	}

	m.logger.Info("sandbox provisioned",
		"device_id", rec.ID, "sandbox_id", inst.ID,
		"memory_mb", inst.Profile.MemoryLimitMB, "cpu_percent", inst.Profile.CPUPercent)
	return nil
}

// Admit checks whether a command may be dispatched to the device. The
// check happens per command, immediately before dispatch.
func (m *Manager) Admit(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason, ok := m.quarantined[deviceID]; ok {
		return fmt.Errorf("%w: %s", ErrQuarantined, reason)
	}

	inst, ok := m.instances[deviceID]
	if !ok {
		return ErrNoSandbox
	}
	switch inst.State {
	case StateTerminating, StateTerminated:
		return ErrTerminating
	}
	return nil
}

// Get returns a copy of the device's sandbox instance.
func (m *Manager) Get(deviceID string) (Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[deviceID]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// IsQuarantined reports whether the device is quarantined.
func (m *Manager) IsQuarantined(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.quarantined[deviceID]
	return ok
}

// Quarantine terminates the device's sandbox and blocks all admission
// until re-pairing.
func (m *Manager) Quarantine(deviceID, reason string) {
	m.mu.Lock()
	m.quarantined[deviceID] = reason
	m.mu.Unlock()

	m.Terminate(deviceID, reason)
	m.logger.Warn("device quarantined", "device_id", deviceID, "reason", reason)

	if m.notifier != nil {
		m.notifier.NotifyOperator("device.quarantined", map[string]any{
			"device_id": deviceID,
			"reason":    reason,
		})
	}
}

// Terminate moves the sandbox through terminating to terminated and
// stops its monitoring loop. Safe to call for devices without a
// sandbox.
func (m *Manager) Terminate(deviceID, reason string) {
	m.mu.Lock()
	inst, ok := m.instances[deviceID]
	if !ok || inst.State == StateTerminated {
		m.mu.Unlock()
		return
	}
	inst.State = StateTerminating
	// No in-flight work survives a control-plane terminate; the state
	// settles immediately.
	inst.State = StateTerminated
	m.mu.Unlock()

	if m.sched != nil {
		m.sched.CancelTask(deviceID, monitorTask)
	}
	if m.metrics != nil {
		m.metrics.SandboxTerminations.Inc()
	}
	m.logger.Info("sandbox terminated", "device_id", deviceID, "reason", reason)

	if m.notifier != nil {
		m.notifier.NotifyOperator("sandbox.terminated", map[string]any{
			"device_id":  deviceID,
			"sandbox_id": inst.ID,
			"reason":     reason,
		})
	}
}

// Destroy removes the device's sandbox entirely, for decommission.
func (m *Manager) Destroy(deviceID string) {
	m.Terminate(deviceID, "decommissioned")
	m.mu.Lock()
	delete(m.instances, deviceID)
	m.mu.Unlock()
}

// Throttle marks the sandbox throttled. Admission continues; the
// dispatch layer applies the reduced rate.
func (m *Manager) throttle(deviceID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[deviceID]
	if !ok {
		return
	}
	switch {
	case on && inst.State == StateActive:
		inst.State = StateThrottled
	case !on && inst.State == StateThrottled:
		inst.State = StateActive
	}
}

func (m *Manager) scheduleSample(deviceID string) {
	m.sched.Schedule(deviceID, monitorTask, m.cfg.MonitorInterval, func(ctx context.Context) {
		m.sample(ctx, deviceID)
	})
}

// sample takes one usage reading and applies threshold policy.
func (m *Manager) sample(ctx context.Context, deviceID string) {
	m.mu.Lock()
	inst, ok := m.instances[deviceID]
	if !ok || inst.State == StateTerminating || inst.State == StateTerminated {
		m.mu.Unlock()
		return
	}
	sandboxID := inst.ID
	m.mu.Unlock()

	usage, err := m.usage.Sample(ctx, deviceID)
	if err != nil {
		m.logger.Debug("sandbox sample failed", "device_id", deviceID, "error", err)
		m.scheduleSample(deviceID)
		return
	}

	if m.telem != nil {
		m.telem.WriteSandboxSample(deviceID, sandboxID,
			usage.CPUPercent, usage.MemoryPercent, usage.NetworkKbps)
	}

	peak := usage.peak()
	switch {
	case peak > m.cfg.SevereThreshold:
		m.logger.Error("severe resource threshold crossed",
			"device_id", deviceID, "cpu", usage.CPUPercent, "memory", usage.MemoryPercent)
		m.Quarantine(deviceID, ErrResourceExhaustion.Error())
		return
	case peak > m.cfg.ModerateThreshold:
		m.throttle(deviceID, true)
		m.logger.Warn("moderate resource threshold crossed, throttling",
			"device_id", deviceID, "cpu", usage.CPUPercent, "memory", usage.MemoryPercent)
	default:
		m.throttle(deviceID, false)
	}

	m.scheduleSample(deviceID)
}
