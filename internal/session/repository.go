package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRow is the persisted view of an issued session token. The
// token string itself is never stored, only its claims surface.
type SessionRow struct {
	JTI            string
	DeviceID       string
	TenantID       string
	Permissions    string
	Fingerprint    string
	NetworkBinding string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	RotationDue    time.Time
	Revoked        bool
}

// Repository is the persistence interface for sessions, revocations,
// and action-token consumptions.
type Repository interface {
	// InsertSession records a newly issued session token.
	InsertSession(ctx context.Context, row *SessionRow) error

	// ActiveSessions returns the device's non-revoked, unexpired
	// session rows.
	ActiveSessions(ctx context.Context, deviceID string) ([]SessionRow, error)

	// MarkSessionRevoked flags the session row. The revocation index
	// entry is written separately and is what validation consults.
	MarkSessionRevoked(ctx context.Context, jti string) error

	// InsertRevocation writes a revocation record. Must be durable
	// before the caller acknowledges the revoke. Idempotent.
	InsertRevocation(ctx context.Context, jti, reason string, revokedAt time.Time) error

	// IsRevoked consults the revocation index.
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// ConsumeAction atomically records first use of an action token.
	// Returns ErrActionTokenConsumed if a consumption record already
	// exists for the jti.
	ConsumeAction(ctx context.Context, jti, deviceID, actionType string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// InsertSession records a newly issued session token.
func (r *SQLiteRepository) InsertSession(ctx context.Context, row *SessionRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (jti, device_id, tenant_id, permissions, fingerprint,
			network_binding, issued_at, expires_at, rotation_due, revoked)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		row.JTI, row.DeviceID, row.TenantID, row.Permissions, row.Fingerprint,
		row.NetworkBinding,
		row.IssuedAt.UTC().Format(time.RFC3339),
		row.ExpiresAt.UTC().Format(time.RFC3339),
		row.RotationDue.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// ActiveSessions returns the device's non-revoked, unexpired sessions.
func (r *SQLiteRepository) ActiveSessions(ctx context.Context, deviceID string) ([]SessionRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT jti, device_id, tenant_id, permissions, fingerprint,
			network_binding, issued_at, expires_at, rotation_due, revoked
		 FROM sessions
		 WHERE device_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY issued_at DESC`,
		deviceID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		var issued, expires, rotation string
		if err := rows.Scan(&row.JTI, &row.DeviceID, &row.TenantID, &row.Permissions,
			&row.Fingerprint, &row.NetworkBinding, &issued, &expires, &rotation,
			&row.Revoked); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		if row.IssuedAt, err = time.Parse(time.RFC3339, issued); err != nil {
			return nil, fmt.Errorf("parsing issued_at: %w", err)
		}
		if row.ExpiresAt, err = time.Parse(time.RFC3339, expires); err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		if row.RotationDue, err = time.Parse(time.RFC3339, rotation); err != nil {
			return nil, fmt.Errorf("parsing rotation_due: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkSessionRevoked flags the session row.
func (r *SQLiteRepository) MarkSessionRevoked(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = 1 WHERE jti = ?`, jti)
	if err != nil {
		return fmt.Errorf("marking session revoked: %w", err)
	}
	return nil
}

// InsertRevocation writes a revocation record. Re-revoking the same jti
// is a no-op, which makes revoke idempotent.
func (r *SQLiteRepository) InsertRevocation(ctx context.Context, jti, reason string, revokedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revocations (jti, revoked_at, reason) VALUES (?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, revokedAt.UTC().Format(time.RFC3339), reason)
	if err != nil {
		return fmt.Errorf("inserting revocation: %w", err)
	}
	return nil
}

// IsRevoked consults the revocation index.
func (r *SQLiteRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revocations WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking revocation index: %w", err)
	}
	return n > 0, nil
}

// ConsumeAction records first use of an action token. The primary key
// on jti makes the insert the atomicity point; a second consumer sees
// zero rows affected and gets ErrActionTokenConsumed.
func (r *SQLiteRepository) ConsumeAction(ctx context.Context, jti, deviceID, actionType string) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO action_consumptions (jti, device_id, action_type, consumed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, deviceID, actionType, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording action consumption: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking consumption result: %w", err)
	}
	if affected == 0 {
		return ErrActionTokenConsumed
	}
	return nil
}
