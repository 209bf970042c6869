package repository

import (
	"context"
	"time"

	"SigRelay/internal/domain/models"
)

// SignalStore is the shared signal table written by the analysis engine
// and drained by the dispatch cycle.
type SignalStore interface {
	// CountUnprocessed is the cheap existence check used to
	// short-circuit no-op cycles.
	CountUnprocessed(ctx context.Context) (int, error)

	// FetchUnprocessed returns up to limit unprocessed actionable
	// signals, newest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*models.Signal, error)

	// MarkProcessed conditionally completes a signal. Returns false
	// without error when another worker already completed it.
	MarkProcessed(ctx context.Context, signalID int64, workerID string) (bool, error)

	// SweepNonActionable marks unprocessed informational signals
	// processed without dispatch and returns how many were swept.
	SweepNonActionable(ctx context.Context, workerID string) (int64, error)

	// Insert persists a new unprocessed signal (ingest path).
	Insert(ctx context.Context, s *models.Signal) error

	Status(ctx context.Context) (*models.StoreStatus, error)
	Health(ctx context.Context) error
}

// RecipientStore holds subscription configurations and their delivery
// bookkeeping counters.
type RecipientStore interface {
	// ListActive returns active configs sorted by priority descending.
	ListActive(ctx context.Context) ([]*models.RecipientConfig, error)

	Get(ctx context.Context, recipientID, configName string) (*models.RecipientConfig, error)

	// RecordDelivery increments signals_received and stamps
	// last_signal_at for every config of the recipient.
	RecordDelivery(ctx context.Context, recipientID string, at time.Time) error

	// Deactivate disables all configs of a recipient, typically after a
	// permanent channel rejection. Returns false when none were active.
	Deactivate(ctx context.Context, recipientID string) (bool, error)

	Stats(ctx context.Context, recipientID string) (*models.RecipientStats, error)

	// PurgeInactive deletes configs deactivated before the cutoff.
	PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error)

	Health(ctx context.Context) error
}

// Channel pushes formatted text to one recipient address. Send returns
// nil on success; failures are classified with the error types in
// errors.go.
type Channel interface {
	Send(ctx context.Context, address, text string) error
	Health(ctx context.Context) error
}

// AuditSink records delivery attempts for analytics. Best effort: sink
// errors never affect dispatch.
type AuditSink interface {
	Record(ctx context.Context, a *models.DeliveryAttempt) error
	Close() error
}

// Reporter publishes cycle reports to interested parties (message
// topics, live feeds).
type Reporter interface {
	PublishReport(ctx context.Context, r *models.CycleReport) error
}

// Metrics abstracts dispatch instrumentation.
type Metrics interface {
	RecordSignalProcessed(kind string)
	RecordDelivery(outcome string)
	RecordSuppression(filter string)
	RecordError(kind string)
	RecordCycleDuration(seconds float64)
	RecordBacklog(n int)
	RecordLatency(op string, seconds float64)
}
