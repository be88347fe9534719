package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			device_id TEXT,
			operator_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	entry := &Entry{
		Action:     ActionPairingCompleted,
		EntityType: "pairing",
		EntityID:   "chl-123",
		DeviceID:   "prn-lobby-01",
		Details:    map[string]any{"attempts": 1},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("ID not generated")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	got := result.Entries[0]
	if got.Action != ActionPairingCompleted || got.DeviceID != "prn-lobby-01" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["attempts"] != float64(1) {
		t.Errorf("Details = %v", got.Details)
	}
}

func TestList_Filters(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	entries := []*Entry{
		{Action: ActionSessionIssued, EntityType: "session", DeviceID: "dev-a", Source: "hardpoint"},
		{Action: ActionSessionRevoked, EntityType: "session", DeviceID: "dev-a", Source: "hardpoint"},
		{Action: ActionSessionIssued, EntityType: "session", DeviceID: "dev-b", Source: "hardpoint"},
		{Action: ActionDeviceQuarantined, EntityType: "sandbox", DeviceID: "dev-b", Source: "hardpoint"},
	}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range entries {
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"by action", Filter{Action: ActionSessionIssued}, 2},
		{"by entity type", Filter{EntityType: "sandbox"}, 1},
		{"by device", Filter{DeviceID: "dev-a"}, 2},
		{"action and device", Filter{Action: ActionSessionIssued, DeviceID: "dev-b"}, 1},
		{"no match", Filter{Action: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.want {
				t.Errorf("Total = %d, want %d", result.Total, tt.want)
			}
			if len(result.Entries) != tt.want {
				t.Errorf("len(Entries) = %d, want %d", len(result.Entries), tt.want)
			}
		})
	}
}

func TestList_OrderAndPagination(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := &Entry{
			Action:     ActionCommandDispatched,
			EntityType: "device",
			DeviceID:   "dev-1",
			Source:     "hardpoint",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	result, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, want 5", result.Total)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(result.Entries))
	}
	// Most recent first: offset 1 skips minute 4, so we get 3 then 2.
	if !result.Entries[0].CreatedAt.After(result.Entries[1].CreatedAt) {
		t.Errorf("entries not in descending order: %v, %v",
			result.Entries[0].CreatedAt, result.Entries[1].CreatedAt)
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *Entry) error {
	return errors.New("disk full")
}

func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

func TestRecorder_SwallowsWriteFailure(t *testing.T) {
	rec := NewRecorder(failingRepo{}, "hardpoint", nil)
	// Must not panic or propagate.
	rec.Record(context.Background(), ActionSessionIssued, "session", "jti-1", "dev-1", nil)
}

func TestRecorder_WritesEntry(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	rec := NewRecorder(repo, "hardpoint", nil)
	ctx := context.Background()

	rec.RecordOperator(ctx, "op-7", ActionSessionRevoked, "session", "jti-9", "dev-2",
		map[string]any{"reason": "operator_revoke"})

	result, err := repo.List(ctx, Filter{DeviceID: "dev-2"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	got := result.Entries[0]
	if got.OperatorID != "op-7" || got.Source != "hardpoint" {
		t.Errorf("entry = %+v", got)
	}
}
