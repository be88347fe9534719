package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// All public methods are thread-safe. Status mutations always go to the
// repository first; the cache entry for that device is refreshed on success.
type Registry struct {
	repo    Repository
	cache   map[string]*Record
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i]
		r.cache[rec.ID] = rec.Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(records))
	return nil
}

// Get retrieves a device by ID.
// Returns ErrNotFound if the device does not exist.
// The returned record is a copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = rec.Clone()
	r.cacheMu.Unlock()

	return rec, nil
}

// List retrieves all devices.
// The returned records are copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		records := make([]Record, 0, len(r.cache))
		for _, rec := range r.cache {
			records = append(records, *rec.Clone())
		}
		r.cacheMu.RUnlock()
		return records, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// Upsert creates or refreshes a device record from a discovery announcement
// and updates the cache.
func (r *Registry) Upsert(ctx context.Context, rec *Record) error {
	if err := r.repo.Upsert(ctx, rec); err != nil {
		return err
	}
	return r.reload(ctx, rec.ID)
}

// CompareAndSwapPairingStatus is the only sanctioned way to mutate
// pairing_status. On ErrConcurrentModification the caller must re-read
// (the cache entry is refreshed either way) and retry.
func (r *Registry) CompareAndSwapPairingStatus(ctx context.Context, id string, expected, next PairingStatus) error {
	err := r.repo.CompareAndSwapPairingStatus(ctx, id, expected, next)
	if reloadErr := r.reload(ctx, id); reloadErr != nil && err == nil {
		err = reloadErr
	}
	return err
}

// CompareAndSwapHealthStatus transitions health_status with the same
// conflict semantics as pairing.
func (r *Registry) CompareAndSwapHealthStatus(ctx context.Context, id string, expected, next HealthStatus) error {
	err := r.repo.CompareAndSwapHealthStatus(ctx, id, expected, next)
	if reloadErr := r.reload(ctx, id); reloadErr != nil && err == nil {
		err = reloadErr
	}
	return err
}

// SetHealthStatus unconditionally sets health_status and refreshes the cache.
func (r *Registry) SetHealthStatus(ctx context.Context, id string, status HealthStatus) error {
	if err := r.repo.SetHealthStatus(ctx, id, status); err != nil {
		return err
	}
	return r.reload(ctx, id)
}

// SetPaperStatus records consumable state and refreshes the cache.
func (r *Registry) SetPaperStatus(ctx context.Context, id string, status PaperStatus) error {
	if err := r.repo.SetPaperStatus(ctx, id, status); err != nil {
		return err
	}
	return r.reload(ctx, id)
}

// SetSessionExpiry mirrors the device's session expiry and refreshes the cache.
func (r *Registry) SetSessionExpiry(ctx context.Context, id string, expiresAt *time.Time) error {
	if err := r.repo.SetSessionExpiry(ctx, id, expiresAt); err != nil {
		return err
	}
	return r.reload(ctx, id)
}

// reload refreshes a single cache entry from the repository.
func (r *Registry) reload(ctx context.Context, id string) error {
	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[id] = rec.Clone()
	r.cacheMu.Unlock()
	return nil
}
