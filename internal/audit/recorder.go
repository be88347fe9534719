package audit

import "context"

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Recorder writes audit entries on a best-effort basis. A failed write
// is logged and swallowed so auditing never blocks the operation that
// triggered it.
type Recorder struct {
	repo   Repository
	source string
	logger Logger
}

// NewRecorder creates a recorder tagging entries with the given source
// (typically the service name).
func NewRecorder(repo Repository, source string, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, source: source, logger: logger}
}

// Record writes one audit entry.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID, deviceID string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}
	entry := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		DeviceID:   deviceID,
		Source:     r.source,
		Details:    details,
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			"action", action, "device_id", deviceID, "error", err)
	}
}

// RecordOperator writes one audit entry attributed to an operator.
func (r *Recorder) RecordOperator(ctx context.Context, operatorID, action, entityType, entityID, deviceID string, details map[string]any) {
	if r == nil || r.repo == nil {
		return
	}
	entry := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		DeviceID:   deviceID,
		OperatorID: operatorID,
		Source:     r.source,
		Details:    details,
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			"action", action, "operator_id", operatorID, "error", err)
	}
}
