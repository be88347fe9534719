package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
	"github.com/oakline-systems/hardpoint-core/internal/selftest"
	"github.com/oakline-systems/hardpoint-core/internal/session"
)

// Logger is the minimal logging interface the orchestrator needs.
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

// Registry is the device registry access the orchestrator needs.
type Registry interface {
	Get(ctx context.Context, id string) (*device.Record, error)
	CompareAndSwapPairingStatus(ctx context.Context, id string, expected, next device.PairingStatus) error
	SetHealthStatus(ctx context.Context, id string, status device.HealthStatus) error
}

// SessionIssuer mints the session token handed back on success.
type SessionIssuer interface {
	Issue(ctx context.Context, deviceID string) (*session.IssuedToken, error)
}

// SandboxProvisioner creates the device's execution sandbox when
// pairing completes.
type SandboxProvisioner interface {
	Provision(ctx context.Context, rec *device.Record) error
}

// HealthWatcher starts the supervisory health loop for a newly paired
// device.
type HealthWatcher interface {
	Watch(deviceID string)
}

// Scheduler schedules challenge expiry sweeps.
type Scheduler interface {
	Schedule(deviceID, name string, delay time.Duration, fn schedule.TaskFunc)
	CancelTask(deviceID, name string) bool
}

// ChallengeInfo is returned to the operator on initiation.
type ChallengeInfo struct {
	ChallengeID string
	PairingCode string
	ExpiresIn   time.Duration
}

// PairResult is returned to the device on a successful response.
type PairResult struct {
	Token        *session.IssuedToken
	Capabilities []string
	Degraded     bool
}

// Orchestrator drives pairing from initiation through the self-test
// gate to session issuance.
//
// Thread Safety: safe for concurrent use. The registry's CAS on
// pairing_status is the arbiter when attempts race; only one caller
// can move a device into pairing at a time.
type Orchestrator struct {
	registry  Registry
	sessions  SessionIssuer
	sandboxes SandboxProvisioner
	health    HealthWatcher
	sched     Scheduler
	store     *challengeStore
	logger    Logger
	metrics   *metrics.Metrics

	challengeTTL time.Duration
	maxAttempts  int
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSandboxes sets the sandbox provisioner.
func WithSandboxes(p SandboxProvisioner) Option {
	return func(o *Orchestrator) { o.sandboxes = p }
}

// WithHealthWatcher sets the health loop starter.
func WithHealthWatcher(w HealthWatcher) Option {
	return func(o *Orchestrator) { o.health = w }
}

// WithScheduler sets the scheduler used for challenge expiry sweeps.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.sched = s }
}

// NewOrchestrator creates a pairing orchestrator.
func NewOrchestrator(registry Registry, sessions SessionIssuer,
	challengeTTL time.Duration, maxAttempts int, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		registry:     registry,
		sessions:     sessions,
		store:        newChallengeStore(),
		logger:       noopLogger{},
		challengeTTL: challengeTTL,
		maxAttempts:  maxAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pairableStates are the statuses InitiatePairing accepts as the CAS
// precondition. Expired and revoked devices re-enter pairing here, by
// operator action.
var pairableStates = []device.PairingStatus{
	device.PairingDiscovered,
	device.PairingExpired,
	device.PairingRevoked,
}

// InitiatePairing starts a challenge for the device and returns the
// pairing code for the operator.
//
// Returns ErrAlreadyPairing if a live challenge exists, ErrNotPairable
// if the device is already paired, and device.ErrConcurrentModification
// if another initiation won the CAS race.
func (o *Orchestrator) InitiatePairing(ctx context.Context, deviceID, operatorID string) (*ChallengeInfo, error) {
	rec, err := o.registry.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if _, ok := o.store.forDevice(deviceID, time.Now()); ok {
		return nil, ErrAlreadyPairing
	}

	if !pairable(rec.PairingStatus) {
		return nil, fmt.Errorf("%w: status %s", ErrNotPairable, rec.PairingStatus)
	}

	if err := o.registry.CompareAndSwapPairingStatus(ctx, deviceID, rec.PairingStatus, device.PairingInProgress); err != nil {
		return nil, err
	}

	challenge, err := newChallenge(deviceID, o.challengeTTL)
	if err != nil {
		// Roll the status back; the challenge never existed.
		o.revertToDiscovered(ctx, deviceID)
		return nil, err
	}
	o.store.put(challenge)
	o.scheduleExpiry(challenge)

	if o.metrics != nil {
		o.metrics.PairingsInitiated.Inc()
	}
	o.logger.Info("pairing initiated",
		"device_id", deviceID, "operator_id", operatorID,
		"challenge_id", challenge.ID, "expires_in", o.challengeTTL)

	return &ChallengeInfo{
		ChallengeID: challenge.ID,
		PairingCode: challenge.Code,
		ExpiresIn:   o.challengeTTL,
	}, nil
}

// SubmitResponse verifies the device's challenge response and self-test
// results. On success the device is paired, its sandbox provisioned,
// its health loop started, and a session token returned.
func (o *Orchestrator) SubmitResponse(ctx context.Context, challengeID, response string, results []selftest.Result) (*PairResult, error) {
	challenge, ok := o.store.get(challengeID)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	deviceID := challenge.DeviceID

	if challenge.Expired(time.Now()) {
		o.destroyChallenge(ctx, challenge, "expired")
		return nil, ErrChallengeExpired
	}

	if !challenge.VerifyResponse(response) {
		attempts := o.store.recordFailure(challengeID)
		o.logger.Warn("pairing response rejected",
			"device_id", deviceID, "challenge_id", challengeID, "attempts", attempts)
		if attempts >= o.maxAttempts {
			o.destroyChallenge(ctx, challenge, "max attempts")
		}
		o.countFailure("bad_response")
		return nil, ErrChallengeFailed
	}

	rec, err := o.registry.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	report, err := selftest.Evaluate(rec.Type, results)
	if err != nil {
		return nil, err
	}
	if !report.Passed() {
		o.destroyChallenge(ctx, challenge, "self-test failure")
		o.countFailure("self_test")
		o.logger.Warn("pairing blocked by self-test",
			"device_id", deviceID, "failed", report.CriticalFailures)
		return nil, fmt.Errorf("%w: %v", ErrSelfTestFailed, report.CriticalFailures)
	}

	if err := o.registry.CompareAndSwapPairingStatus(ctx, deviceID, device.PairingInProgress, device.PairingPaired); err != nil {
		return nil, err
	}
	o.store.remove(challengeID)
	if o.sched != nil {
		o.sched.CancelTask(deviceID, "pairing_expiry")
	}

	health := device.HealthHealthy
	if report.Degraded() {
		health = device.HealthWarning
	}
	if err := o.registry.SetHealthStatus(ctx, deviceID, health); err != nil {
		o.logger.Warn("failed to set post-pairing health status",
			"device_id", deviceID, "error", err)
	}

	if o.sandboxes != nil {
		if err := o.sandboxes.Provision(ctx, rec); err != nil {
			return nil, fmt.Errorf("provisioning sandbox: %w", err)
		}
	}

	token, err := o.sessions.Issue(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if o.health != nil {
		o.health.Watch(deviceID)
	}

	if o.metrics != nil {
		o.metrics.PairingsCompleted.Inc()
	}
	o.logger.Info("device paired",
		"device_id", deviceID, "degraded", report.Degraded(), "jti", token.JTI)

	capabilities := make([]string, 0, len(rec.Capabilities))
	for _, c := range rec.Capabilities {
		capabilities = append(capabilities, string(c))
	}
	return &PairResult{
		Token:        token,
		Capabilities: capabilities,
		Degraded:     report.Degraded(),
	}, nil
}

// scheduleExpiry arranges the challenge's expiry sweep so an abandoned
// attempt returns the device to discovered without waiting for the next
// initiation.
func (o *Orchestrator) scheduleExpiry(c *Challenge) {
	if o.sched == nil {
		return
	}
	challengeID := c.ID
	deviceID := c.DeviceID
	o.sched.Schedule(deviceID, "pairing_expiry", o.challengeTTL, func(taskCtx context.Context) {
		challenge, ok := o.store.get(challengeID)
		if !ok || !challenge.Expired(time.Now()) {
			return
		}
		o.destroyChallenge(taskCtx, challenge, "expired")
	})
}

// destroyChallenge removes the challenge and returns the device to
// discovered.
func (o *Orchestrator) destroyChallenge(ctx context.Context, c *Challenge, reason string) {
	o.store.remove(c.ID)
	o.revertToDiscovered(ctx, c.DeviceID)
	o.logger.Info("pairing challenge destroyed",
		"device_id", c.DeviceID, "challenge_id", c.ID, "reason", reason)
}

func (o *Orchestrator) revertToDiscovered(ctx context.Context, deviceID string) {
	err := o.registry.CompareAndSwapPairingStatus(ctx, deviceID,
		device.PairingInProgress, device.PairingDiscovered)
	if err != nil && !errors.Is(err, device.ErrConcurrentModification) {
		o.logger.Error("failed to revert pairing status",
			"device_id", deviceID, "error", err)
	}
}

func (o *Orchestrator) countFailure(reason string) {
	if o.metrics != nil {
		o.metrics.PairingsFailed.WithLabelValues(reason).Inc()
	}
}

func pairable(status device.PairingStatus) bool {
	for _, s := range pairableStates {
		if s == status {
			return true
		}
	}
	return false
}
