package recovery

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeferredJob is one queued operation awaiting recovery. Seq is the
// FIFO ordering key, assigned by the database on enqueue.
type DeferredJob struct {
	Seq         int64
	DeviceID    string
	Operation   string
	Payload     []byte
	SubmittedAt time.Time
}

// JobRepository is the persistence interface for the deferred-job
// queue.
type JobRepository interface {
	// Enqueue appends a job to the device's queue.
	Enqueue(ctx context.Context, deviceID, operation string, payload []byte) (int64, error)

	// PendingInOrder returns the device's uncompleted jobs, oldest
	// first.
	PendingInOrder(ctx context.Context, deviceID string) ([]DeferredJob, error)

	// MarkCompleted stamps a job done.
	MarkCompleted(ctx context.Context, seq int64) error

	// PendingCount returns the number of uncompleted jobs for the
	// device.
	PendingCount(ctx context.Context, deviceID string) (int, error)
}

// SQLiteJobRepository implements JobRepository using SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite-backed job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

// Enqueue appends a job to the device's queue.
func (r *SQLiteJobRepository) Enqueue(ctx context.Context, deviceID, operation string, payload []byte) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO deferred_jobs (device_id, operation, payload, submitted_at)
		 VALUES (?, ?, ?, ?)`,
		deviceID, operation, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("enqueueing deferred job: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading job seq: %w", err)
	}
	return seq, nil
}

// PendingInOrder returns the device's uncompleted jobs, oldest first.
func (r *SQLiteJobRepository) PendingInOrder(ctx context.Context, deviceID string) ([]DeferredJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, device_id, operation, payload, submitted_at
		 FROM deferred_jobs
		 WHERE device_id = ? AND completed_at IS NULL
		 ORDER BY seq`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying deferred jobs: %w", err)
	}
	defer rows.Close()

	var out []DeferredJob
	for rows.Next() {
		var job DeferredJob
		var submitted string
		if err := rows.Scan(&job.Seq, &job.DeviceID, &job.Operation, &job.Payload, &submitted); err != nil {
			return nil, fmt.Errorf("scanning deferred job: %w", err)
		}
		if job.SubmittedAt, err = time.Parse(time.RFC3339, submitted); err != nil {
			return nil, fmt.Errorf("parsing submitted_at: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkCompleted stamps a job done.
func (r *SQLiteJobRepository) MarkCompleted(ctx context.Context, seq int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deferred_jobs SET completed_at = ? WHERE seq = ?`,
		time.Now().UTC().Format(time.RFC3339), seq)
	if err != nil {
		return fmt.Errorf("completing deferred job: %w", err)
	}
	return nil
}

// PendingCount returns the number of uncompleted jobs for the device.
func (r *SQLiteJobRepository) PendingCount(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deferred_jobs WHERE device_id = ? AND completed_at IS NULL`,
		deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting deferred jobs: %w", err)
	}
	return n, nil
}
