package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List retrieves all devices for the tenant.
	List(ctx context.Context) ([]Record, error)

	// ListByPairingStatus retrieves all devices in a given pairing state.
	ListByPairingStatus(ctx context.Context, status PairingStatus) ([]Record, error)

	// Upsert inserts a new record or refreshes the identity fields
	// (MAC, last IP, capabilities) of an existing one. It never touches
	// pairing or health status; those go through the CAS methods.
	Upsert(ctx context.Context, rec *Record) error

	// CompareAndSwapPairingStatus transitions pairing_status from expected
	// to next, bumping the version. Returns ErrConcurrentModification if
	// the stored status is not the expected one.
	CompareAndSwapPairingStatus(ctx context.Context, id string, expected, next PairingStatus) error

	// CompareAndSwapHealthStatus transitions health_status from expected
	// to next, bumping the version.
	CompareAndSwapHealthStatus(ctx context.Context, id string, expected, next HealthStatus) error

	// SetHealthStatus unconditionally sets health_status. Used by the
	// health monitor, which is the single writer for that column outside
	// pairing.
	SetHealthStatus(ctx context.Context, id string, status HealthStatus) error

	// SetPaperStatus records consumable state for devices that have one.
	SetPaperStatus(ctx context.Context, id string, status PaperStatus) error

	// SetSessionExpiry mirrors the device's current session expiry.
	// A nil value clears it.
	SetSessionExpiry(ctx context.Context, id string, expiresAt *time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `id, tenant_id, type, mac, last_ip, capabilities,
	pairing_status, health_status, security_level, paper_status,
	session_expires_at, version, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM devices WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return rec, nil
}

// List retrieves all devices for the tenant.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	return r.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM devices ORDER BY id`)
}

// ListByPairingStatus retrieves all devices in a given pairing state.
func (r *SQLiteRepository) ListByPairingStatus(ctx context.Context, status PairingStatus) ([]Record, error) {
	return r.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM devices WHERE pairing_status = ? ORDER BY id`,
		string(status))
}

// Upsert inserts a new record or refreshes the identity fields of an
// existing one.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	if err := Validate(rec); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	if rec.PairingStatus == "" {
		rec.PairingStatus = PairingDiscovered
	}
	if rec.HealthStatus == "" {
		rec.HealthStatus = HealthHealthy
	}
	if rec.SecurityLevel == "" {
		rec.SecurityLevel = DefaultSecurityLevel(rec.Type)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO devices (id, tenant_id, type, mac, last_ip, capabilities,
			pairing_status, health_status, security_level, paper_status,
			session_expires_at, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			mac = excluded.mac,
			last_ip = excluded.last_ip,
			capabilities = excluded.capabilities,
			updated_at = excluded.updated_at`,
		rec.ID, rec.TenantID, string(rec.Type), rec.MAC, rec.LastIP, string(caps),
		string(rec.PairingStatus), string(rec.HealthStatus), string(rec.SecurityLevel),
		nullableString(string(rec.PaperStatus)),
		nullableTime(rec.SessionExpiresAt),
		rec.Version,
		rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	return nil
}

// CompareAndSwapPairingStatus transitions pairing_status from expected to
// next, bumping the version.
func (r *SQLiteRepository) CompareAndSwapPairingStatus(ctx context.Context, id string, expected, next PairingStatus) error {
	if !CanTransitionPairing(expected, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET pairing_status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND pairing_status = ?`,
		string(next), time.Now().UTC().Format(time.RFC3339), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("swapping pairing status: %w", err)
	}

	return r.casOutcome(ctx, id, result)
}

// CompareAndSwapHealthStatus transitions health_status from expected to
// next, bumping the version.
func (r *SQLiteRepository) CompareAndSwapHealthStatus(ctx context.Context, id string, expected, next HealthStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET health_status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND health_status = ?`,
		string(next), time.Now().UTC().Format(time.RFC3339), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("swapping health status: %w", err)
	}

	return r.casOutcome(ctx, id, result)
}

// casOutcome distinguishes a CAS conflict from a missing device when an
// UPDATE matched no rows.
func (r *SQLiteRepository) casOutcome(ctx context.Context, id string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking device existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

// SetHealthStatus unconditionally sets health_status.
func (r *SQLiteRepository) SetHealthStatus(ctx context.Context, id string, status HealthStatus) error {
	return r.setColumn(ctx, id, "health_status", string(status))
}

// SetPaperStatus records consumable state for devices that have one.
func (r *SQLiteRepository) SetPaperStatus(ctx context.Context, id string, status PaperStatus) error {
	return r.setColumn(ctx, id, "paper_status", string(status))
}

// SetSessionExpiry mirrors the device's current session expiry.
func (r *SQLiteRepository) SetSessionExpiry(ctx context.Context, id string, expiresAt *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET session_expires_at = ?, updated_at = ? WHERE id = ?`,
		nullableTime(expiresAt), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("setting session expiry: %w", err)
	}
	return requireAffected(result)
}

// setColumn updates a single status column plus updated_at.
// Column names are compile-time constants, never user input.
func (r *SQLiteRepository) setColumn(ctx context.Context, id, column, value string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", column, err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// queryRecords executes a query and scans all resulting records.
func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return records, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one device row into a Record.
func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var caps string
	var paperStatus, sessionExpires sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&rec.ID, &rec.TenantID, (*string)(&rec.Type), &rec.MAC, &rec.LastIP, &caps,
		(*string)(&rec.PairingStatus), (*string)(&rec.HealthStatus),
		(*string)(&rec.SecurityLevel), &paperStatus, &sessionExpires,
		&rec.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if paperStatus.Valid {
		rec.PaperStatus = PaperStatus(paperStatus.String)
	}
	if sessionExpires.Valid {
		t, err := time.Parse(time.RFC3339, sessionExpires.String)
		if err != nil {
			return nil, fmt.Errorf("parsing session expiry: %w", err)
		}
		rec.SessionExpiresAt = &t
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}

// nullableString returns nil for empty strings, for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime returns nil for nil times, formatted RFC3339 otherwise.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
