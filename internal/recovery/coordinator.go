package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
)

const (
	paperPollTask = "paper_poll"
	reconnectTask = "offline_reconnect"
)

// Logger is the minimal logging interface the coordinator needs.
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

// Registry is the device registry access the coordinator needs.
type Registry interface {
	Get(ctx context.Context, id string) (*device.Record, error)
	SetHealthStatus(ctx context.Context, id string, status device.HealthStatus) error
	SetPaperStatus(ctx context.Context, id string, status device.PaperStatus) error
	CompareAndSwapPairingStatus(ctx context.Context, id string, expected, next device.PairingStatus) error
}

// PaperChecker reports a printer's current consumable state.
type PaperChecker interface {
	CheckPaper(ctx context.Context, deviceID string) (device.PaperStatus, error)
}

// Prober re-checks reachability of an offline device.
type Prober interface {
	Probe(ctx context.Context, rec *device.Record) error
}

// SessionStore answers whether a device still holds a live session.
type SessionStore interface {
	HasActiveSession(ctx context.Context, deviceID string) (bool, error)
}

// Dispatcher executes a drained job against the device.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID, operation string, payload []byte) error
}

// HealthWatcher restarts the health loop for a recovered device.
type HealthWatcher interface {
	Watch(deviceID string)
}

// Quarantiner isolates a device's sandbox while it is offline and
// restores it once the device is verified back.
type Quarantiner interface {
	Quarantine(deviceID, reason string)
	Provision(ctx context.Context, rec *device.Record) error
}

// Notifier emits operator and device notifications.
type Notifier interface {
	NotifyOperator(event string, payload any)
	NotifyDevice(deviceID, event string, payload any) error
}

// Scheduler schedules poll and reconnect tasks.
type Scheduler interface {
	Schedule(deviceID, name string, delay time.Duration, fn schedule.TaskFunc)
	CancelTask(deviceID, name string) bool
}

// Config holds the coordinator's timing parameters.
type Config struct {
	// PaperPollInterval is the cadence of paper restoration checks.
	PaperPollInterval time.Duration

	// PaperPollTimeout caps how long paper polling continues before
	// giving up and escalating to the operator.
	PaperPollTimeout time.Duration

	// ReconnectInterval is the cadence of reachability probes for a
	// device that went offline.
	ReconnectInterval time.Duration
}

// DefaultConfig returns the standard timing: 10 s paper polls for at
// most an hour, offline reprobes every 80 s.
func DefaultConfig() Config {
	return Config{
		PaperPollInterval: 10 * time.Second,
		PaperPollTimeout:  time.Hour,
		ReconnectInterval: 80 * time.Second,
	}
}

// Coordinator applies fault-class-specific recovery policies.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	registry   Registry
	jobs       JobRepository
	paper      PaperChecker
	prober     Prober
	sessions   SessionStore
	dispatcher Dispatcher
	health     HealthWatcher
	sandboxes  Quarantiner
	notifier   Notifier
	sched      Scheduler
	logger     Logger
	metrics    *metrics.Metrics
	cfg        Config

	mu         sync.Mutex
	paperSince map[string]time.Time
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDispatcher sets the drain dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Coordinator) { c.dispatcher = d }
}

// WithHealthWatcher sets the health loop restarter.
func WithHealthWatcher(h HealthWatcher) Option {
	return func(c *Coordinator) { c.health = h }
}

// WithQuarantiner sets the sandbox quarantine hook.
func WithQuarantiner(q Quarantiner) Option {
	return func(c *Coordinator) { c.sandboxes = q }
}

// WithNotifier sets the notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a recovery coordinator.
func NewCoordinator(registry Registry, jobs JobRepository, paper PaperChecker,
	prober Prober, sessions SessionStore, sched Scheduler, cfg Config,
	opts ...Option) *Coordinator {

	c := &Coordinator{
		registry:   registry,
		jobs:       jobs,
		paper:      paper,
		prober:     prober,
		sessions:   sessions,
		sched:      sched,
		logger:     noopLogger{},
		cfg:        cfg,
		paperSince: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnPaperOut switches a printer into paper-out recovery: its paper
// status is recorded and the restoration poll starts. Idempotent.
func (c *Coordinator) OnPaperOut(ctx context.Context, deviceID string) {
	c.mu.Lock()
	if _, polling := c.paperSince[deviceID]; polling {
		c.mu.Unlock()
		return
	}
	c.paperSince[deviceID] = time.Now()
	c.mu.Unlock()

	if err := c.registry.SetPaperStatus(ctx, deviceID, device.PaperOut); err != nil {
		c.logger.Error("failed to record paper-out", "device_id", deviceID, "error", err)
	}
	c.logger.Info("paper-out recovery started", "device_id", deviceID)
	if c.notifier != nil {
		c.notifier.NotifyOperator("paper.status_changed", map[string]any{
			"device_id":    deviceID,
			"paper_status": string(device.PaperOut),
		})
	}

	c.sched.Schedule(deviceID, paperPollTask, c.cfg.PaperPollInterval, func(taskCtx context.Context) {
		c.pollPaper(taskCtx, deviceID)
	})
}

// DeferJob queues an operation while the device is in paper-out
// recovery. Jobs drain in submission order once paper is restored.
func (c *Coordinator) DeferJob(ctx context.Context, deviceID, operation string, payload []byte) (int64, error) {
	seq, err := c.jobs.Enqueue(ctx, deviceID, operation, payload)
	if err != nil {
		return 0, err
	}
	if c.metrics != nil {
		c.metrics.DeferredJobsQueued.Inc()
	}
	c.logger.Debug("job deferred", "device_id", deviceID, "operation", operation, "seq", seq)
	return seq, nil
}

// InPaperRecovery reports whether the device is currently in paper-out
// recovery.
func (c *Coordinator) InPaperRecovery(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.paperSince[deviceID]
	return ok
}

// pollPaper checks for paper restoration and either drains, gives up,
// or polls again.
func (c *Coordinator) pollPaper(ctx context.Context, deviceID string) {
	c.mu.Lock()
	since, polling := c.paperSince[deviceID]
	c.mu.Unlock()
	if !polling {
		return
	}

	if time.Since(since) > c.cfg.PaperPollTimeout {
		c.stopPaperRecovery(deviceID)
		c.logger.Warn("paper-out recovery timed out", "device_id", deviceID)
		if c.notifier != nil {
			c.notifier.NotifyOperator("device.paper_out_unresolved", map[string]any{
				"device_id": deviceID,
				"since":     since.UTC().Format(time.RFC3339),
			})
		}
		return
	}

	status, err := c.paper.CheckPaper(ctx, deviceID)
	if err != nil || status == device.PaperOut {
		c.sched.Schedule(deviceID, paperPollTask, c.cfg.PaperPollInterval, func(taskCtx context.Context) {
			c.pollPaper(taskCtx, deviceID)
		})
		return
	}

	if err := c.registry.SetPaperStatus(ctx, deviceID, status); err != nil {
		c.logger.Error("failed to record paper restoration", "device_id", deviceID, "error", err)
	}
	c.stopPaperRecovery(deviceID)
	c.logger.Info("paper restored, draining deferred jobs", "device_id", deviceID)
	if c.notifier != nil {
		c.notifier.NotifyOperator("paper.status_changed", map[string]any{
			"device_id":    deviceID,
			"paper_status": string(device.PaperOK),
		})
	}
	c.drain(ctx, deviceID)
}

// drain replays the device's deferred jobs in submission order. A
// dispatch failure stops the drain; remaining jobs stay queued.
func (c *Coordinator) drain(ctx context.Context, deviceID string) {
	jobs, err := c.jobs.PendingInOrder(ctx, deviceID)
	if err != nil {
		c.logger.Error("failed to load deferred jobs", "device_id", deviceID, "error", err)
		return
	}

	for _, job := range jobs {
		if c.dispatcher != nil {
			if err := c.dispatcher.Dispatch(ctx, deviceID, job.Operation, job.Payload); err != nil {
				c.logger.Error("deferred job dispatch failed",
					"device_id", deviceID, "seq", job.Seq, "error", err)
				return
			}
		}
		if err := c.jobs.MarkCompleted(ctx, job.Seq); err != nil {
			c.logger.Error("failed to complete deferred job",
				"device_id", deviceID, "seq", job.Seq, "error", err)
			return
		}
		if c.metrics != nil {
			c.metrics.DeferredJobsQueued.Dec()
		}
	}
	c.logger.Info("deferred jobs drained", "device_id", deviceID, "count", len(jobs))
}

func (c *Coordinator) stopPaperRecovery(deviceID string) {
	c.mu.Lock()
	delete(c.paperSince, deviceID)
	c.mu.Unlock()
	c.sched.CancelTask(deviceID, paperPollTask)
}

// OnDeviceOffline takes over an offline device from the health
// monitor: the sandbox is quarantined and a slow reconnection probe
// starts.
func (c *Coordinator) OnDeviceOffline(ctx context.Context, deviceID string) {
	if c.sandboxes != nil {
		c.sandboxes.Quarantine(deviceID, "device offline")
	}
	c.logger.Info("connection-drop recovery started", "device_id", deviceID)

	c.sched.Schedule(deviceID, reconnectTask, c.cfg.ReconnectInterval, func(taskCtx context.Context) {
		c.tryReconnect(taskCtx, deviceID)
	})
}

// tryReconnect probes the offline device once and either completes
// recovery or schedules the next attempt.
func (c *Coordinator) tryReconnect(ctx context.Context, deviceID string) {
	rec, err := c.registry.Get(ctx, deviceID)
	if err != nil {
		c.logger.Error("reconnect lookup failed", "device_id", deviceID, "error", err)
		return
	}
	if rec.PairingStatus != device.PairingPaired {
		// Revoked or already forced back to pairing; nothing to recover.
		return
	}

	if err := c.prober.Probe(ctx, rec); err != nil {
		c.sched.Schedule(deviceID, reconnectTask, c.cfg.ReconnectInterval, func(taskCtx context.Context) {
			c.tryReconnect(taskCtx, deviceID)
		})
		return
	}

	c.handleReconnected(ctx, rec)
}

// handleReconnected validates the session before restoring the device.
// A session that expired during the outage forces re-pairing; the
// device's physical identity cannot be re-verified without a fresh
// challenge, so no silent renewal.
func (c *Coordinator) handleReconnected(ctx context.Context, rec *device.Record) {
	deviceID := rec.ID
	alive, err := c.sessions.HasActiveSession(ctx, deviceID)
	if err != nil {
		c.logger.Error("session check on reconnect failed", "device_id", deviceID, "error", err)
		c.sched.Schedule(deviceID, reconnectTask, c.cfg.ReconnectInterval, func(taskCtx context.Context) {
			c.tryReconnect(taskCtx, deviceID)
		})
		return
	}

	if !alive {
		if err := c.registry.CompareAndSwapPairingStatus(ctx, deviceID,
			device.PairingPaired, device.PairingExpired); err != nil {
			c.logger.Error("failed to expire device pairing", "device_id", deviceID, "error", err)
			return
		}
		if c.metrics != nil {
			c.metrics.DevicesOffline.Dec()
		}
		c.logger.Info("session expired during outage, re-pairing required", "device_id", deviceID)
		if c.notifier != nil {
			if err := c.notifier.NotifyDevice(deviceID, "pairing.required", map[string]any{
				"pairing_required": true,
				"reason":           "session expired during outage",
			}); err != nil {
				c.logger.Debug("pairing-required notification failed",
					"device_id", deviceID, "error", err)
			}
			c.notifier.NotifyOperator("device.pairing_required", map[string]any{
				"device_id": deviceID,
			})
		}
		return
	}

	if err := c.registry.SetHealthStatus(ctx, deviceID, device.HealthHealthy); err != nil {
		c.logger.Error("failed to restore health on reconnect", "device_id", deviceID, "error", err)
	}
	if c.metrics != nil {
		c.metrics.DevicesOffline.Dec()
	}
	// The session survived the outage, so the offline quarantine ends
	// here: a fresh sandbox readmits the device's commands.
	if c.sandboxes != nil {
		if err := c.sandboxes.Provision(ctx, rec); err != nil {
			c.logger.Error("failed to restore sandbox on reconnect",
				"device_id", deviceID, "error", err)
		}
	}
	if c.health != nil {
		c.health.Watch(deviceID)
	}
	c.logger.Info("device reconnected with live session", "device_id", deviceID)
}
