package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
)

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

// DeviceDirectory is the interface the manager needs from the device
// registry.
type DeviceDirectory interface {
	Get(ctx context.Context, id string) (*device.Record, error)
	SetSessionExpiry(ctx context.Context, id string, expiresAt *time.Time) error
	CompareAndSwapPairingStatus(ctx context.Context, id string, expected, next device.PairingStatus) error
}

// Scheduler schedules the deferred revocation that ends a rotation
// grace window, and cancels a revoked device's pending tasks.
type Scheduler interface {
	Schedule(deviceID, name string, delay time.Duration, fn schedule.TaskFunc)
	Cancel(deviceID string) int
}

// HealthWatcher stops the supervisory health loop for a revoked
// device.
type HealthWatcher interface {
	Unwatch(deviceID string)
}

// Sandboxes tears down a revoked device's sandbox.
type Sandboxes interface {
	Terminate(deviceID, reason string)
}

// Notifier delivers session events to devices and operators,
// best-effort.
type Notifier interface {
	NotifyDevice(deviceID, event string, payload any) error
	NotifyOperator(event string, payload any)
}

// IssuedToken is the result of issuing or rotating a session token.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	// RotationDue is zero for action tokens.
	RotationDue time.Time
}

// Manager implements the session token lifecycle.
//
// Thread Safety: all methods are safe for concurrent use. Issue,
// Rotate, and Revoke serialize per device, which is what enforces the
// single-valid-session invariant.
type Manager struct {
	repo      Repository
	keystore  *Keystore
	devices   DeviceDirectory
	sched     Scheduler
	notifier  Notifier
	health    HealthWatcher
	sandboxes Sandboxes
	logger    Logger
	metrics   *metrics.Metrics

	issuer        string
	audience      string
	rotationGrace time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures optional collaborators.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNotifier sets the best-effort device notifier.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// WithHealthWatcher sets the health loop stopper used on revocation.
func WithHealthWatcher(h HealthWatcher) ManagerOption {
	return func(m *Manager) { m.health = h }
}

// WithSandboxes sets the sandbox teardown hook used on revocation.
func WithSandboxes(s Sandboxes) ManagerOption {
	return func(m *Manager) { m.sandboxes = s }
}

// NewManager creates a session manager.
//
// Parameters:
//   - repo: durable store for sessions, revocations, and consumptions
//   - keystore: in-memory signing keys
//   - devices: device registry access
//   - sched: scheduler for grace-window revocations (may be nil in tests)
//   - issuer, audience: JWT issuer and audience claims
//   - rotationGrace: how long an old token stays valid after rotation
func NewManager(repo Repository, keystore *Keystore, devices DeviceDirectory,
	sched Scheduler, issuer, audience string, rotationGrace time.Duration,
	opts ...ManagerOption) *Manager {

	m := &Manager{
		repo:          repo,
		keystore:      keystore,
		devices:       devices,
		sched:         sched,
		logger:        noopLogger{},
		issuer:        issuer,
		audience:      audience,
		rotationGrace: rotationGrace,
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// deviceLock returns the mutex serializing token lifecycle operations
// for one device.
func (m *Manager) deviceLock(deviceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[deviceID] = lock
	}
	return lock
}

// Issue creates a new session token for a paired device. Any live
// predecessor session is revoked first, so at most one valid session
// exists when Issue returns.
func (m *Manager) Issue(ctx context.Context, deviceID string) (*IssuedToken, error) {
	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if err := m.revokeActiveLocked(ctx, deviceID, "superseded"); err != nil {
		return nil, err
	}

	issued, err := m.signSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	if err := m.devices.SetSessionExpiry(ctx, deviceID, &issued.ExpiresAt); err != nil {
		m.logger.Warn("failed to mirror session expiry", "device_id", deviceID, "error", err)
	}

	if m.metrics != nil {
		m.metrics.TokensIssued.WithLabelValues(KindSession).Inc()
	}
	m.scheduleAutoRotation(deviceID, issued.RotationDue)
	m.logger.Info("session issued",
		"device_id", deviceID, "jti", issued.JTI, "expires_at", issued.ExpiresAt)
	return issued, nil
}

// Rotate issues a replacement session token. The previous token stays
// valid for the grace window, then its revocation is written. If no
// session is live, Rotate returns ErrNoActiveSession; callers decide
// whether that forces re-pairing.
func (m *Manager) Rotate(ctx context.Context, deviceID string) (*IssuedToken, error) {
	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	active, err := m.repo.ActiveSessions(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNoActiveSession
	}

	issued, err := m.signSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	// The old token is revoked after the grace window, not now, so the
	// device can switch over without a dead moment.
	for _, old := range active {
		oldJTI := old.JTI
		if m.sched != nil {
			m.sched.Schedule(deviceID, "grace_revoke_"+oldJTI, m.rotationGrace,
				func(taskCtx context.Context) {
					if err := m.RevokeJTI(taskCtx, oldJTI, "rotated"); err != nil {
						m.logger.Error("grace-window revocation failed",
							"device_id", deviceID, "jti", oldJTI, "error", err)
					}
				})
		} else {
			if err := m.RevokeJTI(ctx, oldJTI, "rotated"); err != nil {
				return nil, err
			}
		}
	}

	if err := m.devices.SetSessionExpiry(ctx, deviceID, &issued.ExpiresAt); err != nil {
		m.logger.Warn("failed to mirror session expiry", "device_id", deviceID, "error", err)
	}

	m.notify(deviceID, "session.rotated", map[string]any{
		"jti":        issued.JTI,
		"expires_at": issued.ExpiresAt.UTC().Format(time.RFC3339),
	})

	if m.metrics != nil {
		m.metrics.TokensIssued.WithLabelValues(KindSession).Inc()
	}
	m.logger.Info("session rotated",
		"device_id", deviceID, "jti", issued.JTI, "superseded", len(active))
	m.scheduleAutoRotation(deviceID, issued.RotationDue)
	return issued, nil
}

// scheduleAutoRotation arranges a rotation attempt when the current
// token's rotation becomes due. A failed attempt is retried by the
// health monitor at the next successful check; until then the old
// token stays valid up to its absolute expiry.
func (m *Manager) scheduleAutoRotation(deviceID string, due time.Time) {
	if m.sched == nil {
		return
	}
	m.sched.Schedule(deviceID, "auto_rotate", time.Until(due),
		func(taskCtx context.Context) {
			if _, err := m.RotateIfDue(taskCtx, deviceID); err != nil {
				m.logger.Warn("automatic rotation failed",
					"device_id", deviceID, "error", err)
			}
		})
}

// RotateIfDue rotates the device's session only when its rotation is
// due. Returns (false, nil) when nothing is due, including when the
// device has no live session.
func (m *Manager) RotateIfDue(ctx context.Context, deviceID string) (bool, error) {
	active, err := m.repo.ActiveSessions(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if len(active) == 0 {
		return false, nil
	}

	// During a grace window the superseded token is still active; only
	// the newest session decides whether rotation is due.
	newest := active[0]
	for _, row := range active[1:] {
		if row.IssuedAt.After(newest.IssuedAt) {
			newest = row
		}
	}
	if newest.RotationDue.After(time.Now()) {
		return false, nil
	}
	if _, err := m.Rotate(ctx, deviceID); err != nil {
		return false, err
	}
	return true, nil
}

// Revoke immediately revokes every live session for the device and
// ends its supervised life: the device moves to revoked, its pending
// scheduled tasks are cancelled, its health loop stops, and its
// sandbox is torn down. Re-pairing is the only way back in. The
// revocation records are durable before Revoke returns. Idempotent;
// revoking a device with no live sessions succeeds quietly.
func (m *Manager) Revoke(ctx context.Context, deviceID, reason string) error {
	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.revokeActiveLocked(ctx, deviceID, reason); err != nil {
		return err
	}

	if err := m.devices.SetSessionExpiry(ctx, deviceID, nil); err != nil {
		m.logger.Warn("failed to clear session expiry", "device_id", deviceID, "error", err)
	}

	if err := m.devices.CompareAndSwapPairingStatus(ctx, deviceID,
		device.PairingPaired, device.PairingRevoked); err != nil {
		// Already expired, revoked, or mid-pairing; the sessions are
		// gone either way.
		m.logger.Debug("pairing status unchanged on revoke",
			"device_id", deviceID, "error", err)
	}

	if m.sched != nil {
		if n := m.sched.Cancel(deviceID); n > 0 {
			m.logger.Debug("cancelled pending tasks on revoke",
				"device_id", deviceID, "tasks", n)
		}
	}
	if m.health != nil {
		m.health.Unwatch(deviceID)
	}
	if m.sandboxes != nil {
		m.sandboxes.Terminate(deviceID, "session revoked")
	}

	m.notify(deviceID, "session.revoked", map[string]any{"reason": reason})
	if m.notifier != nil {
		m.notifier.NotifyOperator("session.revoked", map[string]any{
			"device_id": deviceID,
			"reason":    reason,
		})
	}
	return nil
}

// revokeActiveLocked revokes all live sessions for the device. Callers
// must hold the device lock.
func (m *Manager) revokeActiveLocked(ctx context.Context, deviceID, reason string) error {
	active, err := m.repo.ActiveSessions(ctx, deviceID)
	if err != nil {
		return err
	}
	for _, row := range active {
		if err := m.RevokeJTI(ctx, row.JTI, reason); err != nil {
			return err
		}
	}
	return nil
}

// RevokeJTI revokes a single token by id. Durable before return,
// idempotent.
func (m *Manager) RevokeJTI(ctx context.Context, jti, reason string) error {
	if err := m.repo.InsertRevocation(ctx, jti, reason, time.Now()); err != nil {
		return err
	}
	if err := m.repo.MarkSessionRevoked(ctx, jti); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.TokensRevoked.Inc()
	}
	m.logger.Info("token revoked", "jti", jti, "reason", reason)
	return nil
}

// HasActiveSession reports whether the device holds at least one
// unrevoked, unexpired session.
func (m *Manager) HasActiveSession(ctx context.Context, deviceID string) (bool, error) {
	active, err := m.repo.ActiveSessions(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

// IssueActionToken creates a single-use token scoped to one action
// type. The device must hold a live session and the action must be
// within its granted permissions.
func (m *Manager) IssueActionToken(ctx context.Context, deviceID, actionType string) (*IssuedToken, error) {
	rec, err := m.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	active, err := m.repo.ActiveSessions(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNoActiveSession
	}

	if !rec.HasCapability(device.Capability(actionType)) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, actionType)
	}

	ttl, err := ActionTTLFor(rec.SecurityLevel, actionType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DeviceID:    deviceID,
		TenantID:    rec.TenantID,
		Kind:        KindAction,
		Fingerprint: Fingerprint(rec.ID, rec.MAC),
		ActionType:  actionType,
		SingleUse:   true,
	}

	token, err := m.sign(claims)
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.TokensIssued.WithLabelValues(KindAction).Inc()
	}
	m.logger.Debug("action token issued",
		"device_id", deviceID, "action", actionType, "ttl", ttl)
	return &IssuedToken{
		Token:     token,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Validate checks a token in the fixed order: signature, expiry,
// revocation index. The revocation check is authoritative; it runs even
// though signature and expiry already passed.
func (m *Manager) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		m.countValidation("rejected")
		return nil, err
	}

	revoked, err := m.repo.IsRevoked(ctx, claims.ID)
	if err != nil {
		m.countValidation("error")
		return nil, err
	}
	if revoked {
		m.countValidation("revoked")
		return nil, ErrTokenRevoked
	}

	m.countValidation("ok")
	return claims, nil
}

// ConsumeActionToken validates an action token and atomically records
// its consumption. A second call for the same token returns
// ErrActionTokenConsumed regardless of remaining TTL.
func (m *Manager) ConsumeActionToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.Validate(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != KindAction {
		return nil, fmt.Errorf("%w: not an action token", ErrTokenInvalid)
	}

	if err := m.repo.ConsumeAction(ctx, claims.ID, claims.DeviceID, claims.ActionType); err != nil {
		return nil, err
	}
	return claims, nil
}

// signSession builds and signs a session token for the device record.
func (m *Manager) signSession(ctx context.Context, rec *device.Record) (*IssuedToken, error) {
	policy := PolicyFor(rec.SecurityLevel)
	now := time.Now()
	expiresAt := now.Add(policy.SessionTTL)
	rotationDue := now.Add(policy.RotationInterval)

	permissions := make([]string, 0, len(rec.Capabilities))
	for _, c := range rec.Capabilities {
		permissions = append(permissions, string(c))
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			Subject:   rec.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		DeviceID:       rec.ID,
		TenantID:       rec.TenantID,
		Kind:           KindSession,
		Permissions:    permissions,
		RotationDue:    rotationDue.Unix(),
		Fingerprint:    Fingerprint(rec.ID, rec.MAC),
		NetworkBinding: rec.LastIP,
	}

	token, err := m.sign(claims)
	if err != nil {
		return nil, err
	}

	row := &SessionRow{
		JTI:            claims.ID,
		DeviceID:       rec.ID,
		TenantID:       rec.TenantID,
		Permissions:    strings.Join(permissions, ","),
		Fingerprint:    claims.Fingerprint,
		NetworkBinding: claims.NetworkBinding,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		RotationDue:    rotationDue,
	}
	if err := m.repo.InsertSession(ctx, row); err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token:       token,
		JTI:         claims.ID,
		ExpiresAt:   expiresAt,
		RotationDue: rotationDue,
	}, nil
}

// sign serializes and signs claims with the current key, embedding the
// key id in the header for verification.
func (m *Manager) sign(claims *Claims) (string, error) {
	kid, secret, err := m.keystore.Current()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// parse verifies signature and registered claims, mapping library
// errors onto the package's sentinels.
func (m *Manager) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenInvalid, t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing key id", ErrTokenInvalid)
		}
		return m.keystore.Lookup(kid)
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, ErrUnknownKey):
			return nil, ErrUnknownKey
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	return claims, nil
}

// notify delivers a device notification, best-effort.
func (m *Manager) notify(deviceID, event string, payload any) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyDevice(deviceID, event, payload); err != nil {
		m.logger.Debug("device notification failed",
			"device_id", deviceID, "event", event, "error", err)
	}
}

func (m *Manager) countValidation(outcome string) {
	if m.metrics != nil {
		m.metrics.TokenValidations.WithLabelValues(outcome).Inc()
	}
}
