package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			type TEXT NOT NULL,
			mac TEXT NOT NULL DEFAULT '',
			last_ip TEXT NOT NULL DEFAULT '',
			capabilities TEXT NOT NULL DEFAULT '[]',
			pairing_status TEXT NOT NULL DEFAULT 'discovered',
			health_status TEXT NOT NULL DEFAULT 'healthy',
			security_level TEXT NOT NULL DEFAULT 'basic',
			paper_status TEXT,
			session_expires_at TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testRecord creates a printer record for testing.
func testRecord(id string) *Record {
	return &Record{
		ID:           id,
		TenantID:     "tenant-test",
		Type:         TypePrinter,
		MAC:          "aa:bb:cc:dd:ee:01",
		LastIP:       "10.0.0.21",
		Capabilities: []Capability{CapPrintReceipt, CapCutPaper},
	}
}

func TestUpsertAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord("prn-01")
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "prn-01")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.PairingStatus != PairingDiscovered {
		t.Errorf("PairingStatus = %q, want discovered", got.PairingStatus)
	}
	if got.SecurityLevel != SecurityBasic {
		t.Errorf("SecurityLevel = %q, want basic default", got.SecurityLevel)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if len(got.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", got.Capabilities)
	}
}

func TestUpsert_RefreshesIdentityOnly(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord("prn-01")
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.CompareAndSwapPairingStatus(ctx, "prn-01", PairingDiscovered, PairingInProgress); err != nil {
		t.Fatalf("CAS error = %v", err)
	}

	// A re-announcement must not reset pairing progress.
	again := testRecord("prn-01")
	again.LastIP = "10.0.0.99"
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "prn-01")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PairingStatus != PairingInProgress {
		t.Errorf("PairingStatus = %q, want pairing preserved", got.PairingStatus)
	}
	if got.LastIP != "10.0.0.99" {
		t.Errorf("LastIP = %q, want refreshed", got.LastIP)
	}
}

func TestUpsert_PaymentTerminalDefaultsEnterprise(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	rec := testRecord("pay-01")
	rec.Type = TypePaymentTerminal
	rec.Capabilities = []Capability{CapAuthorizePayment}
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "pay-01")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.SecurityLevel != SecurityEnterprise {
		t.Errorf("SecurityLevel = %q, want enterprise", got.SecurityLevel)
	}
}

func TestUpsert_Invalid(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"empty id", func(r *Record) { r.ID = "" }},
		{"missing tenant", func(r *Record) { r.TenantID = "" }},
		{"unknown type", func(r *Record) { r.Type = "toaster" }},
		{"unknown capability", func(r *Record) { r.Capabilities = []Capability{"fly"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("prn-x")
			tt.mutate(rec)
			if err := repo.Upsert(ctx, rec); err == nil {
				t.Error("Upsert() expected validation error")
			}
		})
	}
}

func TestCompareAndSwapPairingStatus(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("prn-01")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Successful transition bumps version.
	if err := repo.CompareAndSwapPairingStatus(ctx, "prn-01", PairingDiscovered, PairingInProgress); err != nil {
		t.Fatalf("CAS error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "prn-01")
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2 after CAS", got.Version)
	}

	// Stale expectation conflicts.
	err := repo.CompareAndSwapPairingStatus(ctx, "prn-01", PairingDiscovered, PairingInProgress)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("CAS with stale expectation error = %v, want ErrConcurrentModification", err)
	}

	// Unknown device.
	err = repo.CompareAndSwapPairingStatus(ctx, "ghost", PairingDiscovered, PairingInProgress)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CAS on missing device error = %v, want ErrNotFound", err)
	}

	// Transition not in the state machine.
	err = repo.CompareAndSwapPairingStatus(ctx, "prn-01", PairingInProgress, PairingExpired)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("illegal transition error = %v, want ErrInvalidTransition", err)
	}
}

func TestCompareAndSwapPairingStatus_OnlyOneWinner(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("prn-01")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Two racing pairing attempts: exactly one CAS can win.
	first := repo.CompareAndSwapPairingStatus(ctx, "prn-01", PairingDiscovered, PairingInProgress)
	second := repo.CompareAndSwapPairingStatus(ctx, "prn-01", PairingDiscovered, PairingInProgress)

	if first != nil {
		t.Fatalf("first CAS error = %v", first)
	}
	if !errors.Is(second, ErrConcurrentModification) {
		t.Errorf("second CAS error = %v, want ErrConcurrentModification", second)
	}
}

func TestSetters(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("prn-01")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := repo.SetPaperStatus(ctx, "prn-01", PaperOut); err != nil {
		t.Fatalf("SetPaperStatus() error = %v", err)
	}
	if err := repo.SetHealthStatus(ctx, "prn-01", HealthWarning); err != nil {
		t.Fatalf("SetHealthStatus() error = %v", err)
	}

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := repo.SetSessionExpiry(ctx, "prn-01", &expires); err != nil {
		t.Fatalf("SetSessionExpiry() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "prn-01")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PaperStatus != PaperOut {
		t.Errorf("PaperStatus = %q, want out", got.PaperStatus)
	}
	if got.HealthStatus != HealthWarning {
		t.Errorf("HealthStatus = %q, want warning", got.HealthStatus)
	}
	if got.SessionExpiresAt == nil || !got.SessionExpiresAt.Equal(expires) {
		t.Errorf("SessionExpiresAt = %v, want %v", got.SessionExpiresAt, expires)
	}

	// Clearing session expiry.
	if err := repo.SetSessionExpiry(ctx, "prn-01", nil); err != nil {
		t.Fatalf("SetSessionExpiry(nil) error = %v", err)
	}
	got, _ = repo.GetByID(ctx, "prn-01")
	if got.SessionExpiresAt != nil {
		t.Errorf("SessionExpiresAt = %v, want cleared", got.SessionExpiresAt)
	}

	if err := repo.SetPaperStatus(ctx, "ghost", PaperOK); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPaperStatus on missing device error = %v, want ErrNotFound", err)
	}
}

func TestListByPairingStatus(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"prn-01", "prn-02", "prn-03"} {
		if err := repo.Upsert(ctx, testRecord(id)); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}
	if err := repo.CompareAndSwapPairingStatus(ctx, "prn-02", PairingDiscovered, PairingInProgress); err != nil {
		t.Fatalf("CAS error = %v", err)
	}

	discovered, err := repo.ListByPairingStatus(ctx, PairingDiscovered)
	if err != nil {
		t.Fatalf("ListByPairingStatus() error = %v", err)
	}
	if len(discovered) != 2 {
		t.Errorf("discovered count = %d, want 2", len(discovered))
	}
}
