package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
)

// mockDirectory implements DeviceDirectory.
type mockDirectory struct {
	mu      sync.Mutex
	records map[string]*device.Record
}

func newMockDirectory(records ...*device.Record) *mockDirectory {
	m := &mockDirectory{records: make(map[string]*device.Record)}
	for _, rec := range records {
		m.records[rec.ID] = rec
	}
	return m
}

func (m *mockDirectory) Get(_ context.Context, id string) (*device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *mockDirectory) SetSessionExpiry(_ context.Context, id string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return device.ErrNotFound
	}
	rec.SessionExpiresAt = expiresAt
	return nil
}

func (m *mockDirectory) CompareAndSwapPairingStatus(_ context.Context, id string, expected, next device.PairingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return device.ErrNotFound
	}
	if rec.PairingStatus != expected {
		return device.ErrConcurrentModification
	}
	rec.PairingStatus = next
	return nil
}

func (m *mockDirectory) status(id string) device.PairingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].PairingStatus
}

// fakeScheduler captures scheduled tasks without running them.
type fakeScheduler struct {
	mu        sync.Mutex
	tasks     []scheduledTask
	cancelled []string
}

type scheduledTask struct {
	deviceID string
	name     string
	delay    time.Duration
	fn       schedule.TaskFunc
}

func (f *fakeScheduler) Schedule(deviceID, name string, delay time.Duration, fn schedule.TaskFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, scheduledTask{deviceID, name, delay, fn})
}

func (f *fakeScheduler) Cancel(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, deviceID)
	n := 0
	kept := f.tasks[:0]
	for _, st := range f.tasks {
		if st.deviceID == deviceID {
			n++
			continue
		}
		kept = append(kept, st)
	}
	f.tasks = kept
	return n
}

func testDevice(id string) *device.Record {
	return &device.Record{
		ID:            id,
		TenantID:      "tenant-test",
		Type:          device.TypePrinter,
		MAC:           "aa:bb:cc:dd:ee:01",
		LastIP:        "10.0.0.21",
		Capabilities:  []device.Capability{device.CapPrintReceipt},
		PairingStatus: device.PairingPaired,
		HealthStatus:  device.HealthHealthy,
		SecurityLevel: device.SecurityBasic,
	}
}

func newTestManager(t *testing.T, sched Scheduler, records ...*device.Record) *Manager {
	t.Helper()
	ks, err := NewKeystore(time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("NewKeystore() error = %v", err)
	}
	repo := NewSQLiteRepository(setupTestDB(t))
	return NewManager(repo, ks, newMockDirectory(records...), sched,
		"hardpoint", "hardpoint-devices", 5*time.Minute)
}

func TestIssueAndValidate(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	issued, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if issued.Token == "" || issued.JTI == "" {
		t.Fatal("Issue() returned empty token or jti")
	}
	if !issued.RotationDue.Before(issued.ExpiresAt) {
		t.Error("rotation due must precede absolute expiry")
	}

	claims, err := m.Validate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.DeviceID != "prn-01" || claims.Kind != KindSession {
		t.Errorf("claims = %+v, want session for prn-01", claims)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "print_receipt" {
		t.Errorf("Permissions = %v, want [print_receipt]", claims.Permissions)
	}
	if claims.Fingerprint != Fingerprint("prn-01", "aa:bb:cc:dd:ee:01") {
		t.Error("fingerprint does not match device identity")
	}
}

func TestIssue_SupersedesPreviousSession(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	first, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("first Issue() error = %v", err)
	}
	second, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("second Issue() error = %v", err)
	}

	if _, err := m.Validate(ctx, second.Token); err != nil {
		t.Errorf("new token Validate() error = %v", err)
	}
	if _, err := m.Validate(ctx, first.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("old token Validate() error = %v, want ErrTokenRevoked", err)
	}
}

func TestRevoke(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	issued, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := m.Revoke(ctx, "prn-01", "operator request"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	// Idempotent, even with nothing left to revoke.
	if err := m.Revoke(ctx, "prn-01", "operator request"); err != nil {
		t.Fatalf("repeat Revoke() error = %v", err)
	}

	if _, err := m.Validate(ctx, issued.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Validate() after revoke error = %v, want ErrTokenRevoked", err)
	}
}

// recordingUnwatcher implements HealthWatcher.
type recordingUnwatcher struct {
	mu        sync.Mutex
	unwatched []string
}

func (r *recordingUnwatcher) Unwatch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unwatched = append(r.unwatched, deviceID)
}

// recordingSandboxes implements Sandboxes.
type recordingSandboxes struct {
	mu         sync.Mutex
	terminated []string
}

func (r *recordingSandboxes) Terminate(deviceID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, deviceID)
}

func TestRevokeTearsDownDevice(t *testing.T) {
	ks, err := NewKeystore(time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("NewKeystore() error = %v", err)
	}
	dir := newMockDirectory(testDevice("prn-01"))
	sched := &fakeScheduler{}
	unwatcher := &recordingUnwatcher{}
	sandboxes := &recordingSandboxes{}
	m := NewManager(NewSQLiteRepository(setupTestDB(t)), ks, dir, sched,
		"hardpoint", "hardpoint-devices", 5*time.Minute,
		WithHealthWatcher(unwatcher), WithSandboxes(sandboxes))
	ctx := context.Background()

	if _, err := m.Issue(ctx, "prn-01"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := m.Revoke(ctx, "prn-01", "compromised"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	if got := dir.status("prn-01"); got != device.PairingRevoked {
		t.Errorf("pairing status after revoke = %s, want revoked", got)
	}

	sched.mu.Lock()
	cancelled := len(sched.cancelled) == 1 && sched.cancelled[0] == "prn-01"
	remaining := len(sched.tasks)
	sched.mu.Unlock()
	if !cancelled {
		t.Error("pending tasks not cancelled on revoke")
	}
	if remaining != 0 {
		t.Errorf("%d tasks still scheduled after revoke", remaining)
	}

	if len(unwatcher.unwatched) != 1 || unwatcher.unwatched[0] != "prn-01" {
		t.Errorf("health unwatch = %v, want [prn-01]", unwatcher.unwatched)
	}
	if len(sandboxes.terminated) != 1 || sandboxes.terminated[0] != "prn-01" {
		t.Errorf("sandbox teardown = %v, want [prn-01]", sandboxes.terminated)
	}

	// The device can re-enter pairing without operator surgery.
	if !device.CanTransitionPairing(device.PairingRevoked, device.PairingInProgress) {
		t.Error("revoked device cannot re-enter pairing")
	}
}

func TestRotate_GraceWindow(t *testing.T) {
	sched := &fakeScheduler{}
	m := newTestManager(t, sched, testDevice("prn-01"))
	ctx := context.Background()

	old, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	rotated, err := m.Rotate(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	// Old token stays valid during the grace window.
	if _, err := m.Validate(ctx, old.Token); err != nil {
		t.Errorf("old token Validate() during grace error = %v", err)
	}
	if _, err := m.Validate(ctx, rotated.Token); err != nil {
		t.Errorf("new token Validate() error = %v", err)
	}

	var task scheduledTask
	found := false
	sched.mu.Lock()
	for _, st := range sched.tasks {
		if strings.HasPrefix(st.name, "grace_revoke_") {
			task = st
			found = true
		}
	}
	sched.mu.Unlock()
	if !found {
		t.Fatal("no grace revocation scheduled")
	}

	if task.delay != 5*time.Minute {
		t.Errorf("grace delay = %v, want 5m", task.delay)
	}

	// Grace window elapses.
	task.fn(ctx)
	if _, err := m.Validate(ctx, old.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("old token Validate() after grace error = %v, want ErrTokenRevoked", err)
	}
}

func TestRotate_NoActiveSession(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))

	_, err := m.Rotate(context.Background(), "prn-01")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Rotate() error = %v, want ErrNoActiveSession", err)
	}
}

func TestActionToken_SingleUse(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	if _, err := m.Issue(ctx, "prn-01"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	issued, err := m.IssueActionToken(ctx, "prn-01", "print_receipt")
	if err != nil {
		t.Fatalf("IssueActionToken() error = %v", err)
	}

	claims, err := m.ConsumeActionToken(ctx, issued.Token)
	if err != nil {
		t.Fatalf("ConsumeActionToken() error = %v", err)
	}
	if claims.ActionType != "print_receipt" || !claims.SingleUse {
		t.Errorf("claims = %+v, want single-use print_receipt", claims)
	}

	_, err = m.ConsumeActionToken(ctx, issued.Token)
	if !errors.Is(err, ErrActionTokenConsumed) {
		t.Errorf("repeat ConsumeActionToken() error = %v, want ErrActionTokenConsumed", err)
	}
}

func TestActionToken_RequiresSessionAndPermission(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	_, err := m.IssueActionToken(ctx, "prn-01", "print_receipt")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("IssueActionToken() without session error = %v, want ErrNoActiveSession", err)
	}

	if _, err := m.Issue(ctx, "prn-01"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = m.IssueActionToken(ctx, "prn-01", "authorize_payment")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("IssueActionToken() outside permissions error = %v, want ErrPermissionDenied", err)
	}

	_, err = m.IssueActionToken(ctx, "prn-01", "levitate")
	if err == nil {
		t.Error("IssueActionToken() with unknown action expected error")
	}
}

func TestValidate_TamperedToken(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	issued, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tampered := issued.Token[:len(issued.Token)-2] + "xx"
	if _, err := m.Validate(ctx, tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Validate(tampered) error = %v, want ErrTokenInvalid", err)
	}
}

func TestValidate_UnknownKey(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	other := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	issued, err := other.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Token signed under a keystore this process never held, as after
	// a restart.
	if _, err := m.Validate(ctx, issued.Token); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Validate() error = %v, want ErrUnknownKey", err)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    "hardpoint",
			Audience:  jwt.ClaimStrings{"hardpoint-devices"},
			Subject:   "prn-01",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		DeviceID:    "prn-01",
		TenantID:    "tenant-test",
		Kind:        KindSession,
		Fingerprint: Fingerprint("prn-01", "aa:bb:cc:dd:ee:01"),
	}
	token, err := m.sign(claims)
	if err != nil {
		t.Fatalf("sign() error = %v", err)
	}

	if _, err := m.Validate(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestValidate_RevocationAuthoritative(t *testing.T) {
	m := newTestManager(t, nil, testDevice("prn-01"))
	ctx := context.Background()

	issued, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Revoke the jti directly; signature and expiry still pass.
	if err := m.RevokeJTI(ctx, issued.JTI, "compromised"); err != nil {
		t.Fatalf("RevokeJTI() error = %v", err)
	}
	if _, err := m.Validate(ctx, issued.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Validate() error = %v, want ErrTokenRevoked", err)
	}
}

func TestIssueSchedulesAutoRotation(t *testing.T) {
	sched := &fakeScheduler{}
	m := newTestManager(t, sched, testDevice("prn-01"))

	if _, err := m.Issue(context.Background(), "prn-01"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	found := false
	for _, st := range sched.tasks {
		if st.name == "auto_rotate" {
			found = true
			// Basic security level rotates daily.
			if st.delay < 23*time.Hour || st.delay > 24*time.Hour {
				t.Errorf("auto rotation delay = %v, want about 24h", st.delay)
			}
		}
	}
	if !found {
		t.Error("no automatic rotation scheduled")
	}
}

func TestRotateIfDue(t *testing.T) {
	m := newTestManager(t, &fakeScheduler{}, testDevice("prn-01"))
	ctx := context.Background()

	// No session at all: nothing due, no error.
	rotated, err := m.RotateIfDue(ctx, "prn-01")
	if err != nil || rotated {
		t.Fatalf("RotateIfDue() = (%v, %v), want (false, nil)", rotated, err)
	}

	issued, err := m.Issue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Freshly issued: rotation not due yet.
	rotated, err = m.RotateIfDue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("RotateIfDue() error = %v", err)
	}
	if rotated {
		t.Error("rotated a session whose rotation is not due")
	}
	if _, err := m.Validate(ctx, issued.Token); err != nil {
		t.Errorf("token invalidated by a no-op rotation check: %v", err)
	}
}

func TestRotateIfDue_OverdueSessionRotates(t *testing.T) {
	m := newTestManager(t, &fakeScheduler{}, testDevice("prn-01"))
	ctx := context.Background()

	// A session whose rotation deadline has already passed.
	now := time.Now()
	row := &SessionRow{
		JTI:         uuid.NewString(),
		DeviceID:    "prn-01",
		TenantID:    "tenant-test",
		IssuedAt:    now.Add(-25 * time.Hour),
		ExpiresAt:   now.Add(24 * time.Hour),
		RotationDue: now.Add(-time.Hour),
	}
	if err := m.repo.InsertSession(ctx, row); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}

	rotated, err := m.RotateIfDue(ctx, "prn-01")
	if err != nil {
		t.Fatalf("RotateIfDue() error = %v", err)
	}
	if !rotated {
		t.Fatal("overdue session was not rotated")
	}
}
