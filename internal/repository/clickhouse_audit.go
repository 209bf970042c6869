package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SigRelay/internal/domain/models"
	domrepo "SigRelay/internal/domain/repository"
)

// ClickHouseAuditSink appends delivery attempts to an analytics table.
// Rows are append-only; the dispatch path never reads them back.
type ClickHouseAuditSink struct {
	db    *sql.DB
	table string
}

func NewClickHouseAuditSink(db *sql.DB, table string) *ClickHouseAuditSink {
	return &ClickHouseAuditSink{db: db, table: table}
}

// Schema returns the idempotent DDL for the audit table.
func (s *ClickHouseAuditSink) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			signal_id    Int64,
			recipient_id String,
			address      String,
			outcome      LowCardinality(String),
			attempts     UInt8,
			error        String,
			suppressed_by String,
			at           DateTime
		) ENGINE = MergeTree ORDER BY (at, recipient_id)`, s.table),
	}
}

// Record inserts one delivery attempt.
func (s *ClickHouseAuditSink) Record(ctx context.Context, a *models.DeliveryAttempt) error {
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (signal_id, recipient_id, address, outcome, attempts, error, suppressed_by, at)
		             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		a.SignalID, a.RecipientID, a.Address, a.Outcome, a.Attempts, a.Error, a.SuppressedBy, at)
	if err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *ClickHouseAuditSink) Close() error { return s.db.Close() }

var _ domrepo.AuditSink = (*ClickHouseAuditSink)(nil)

// NopAuditSink discards attempts, used when ClickHouse is disabled.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, *models.DeliveryAttempt) error { return nil }
func (NopAuditSink) Close() error                                          { return nil }

var _ domrepo.AuditSink = NopAuditSink{}
