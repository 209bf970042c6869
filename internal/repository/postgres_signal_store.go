package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"SigRelay/internal/domain/models"
	domrepo "SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// actionableKinds are the directional signal kinds eligible for
// dispatch. Informational kinds are swept without delivery.
var actionableKinds = []string{
	models.KindBuy, models.KindStrongBuy,
	models.KindSell, models.KindStrongSell,
	"buy", "sell",
}

// PostgresSignalStore reads and completes signals in the shared table
// written by the analysis engine.
type PostgresSignalStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewPostgresSignalStore(db *sqlx.DB, log *logger.Logger) *PostgresSignalStore {
	return &PostgresSignalStore{db: db, log: log}
}

type signalRow struct {
	ID            int64           `db:"id"`
	Symbol        string          `db:"symbol"`
	Kind          string          `db:"signal_type"`
	Strength      string          `db:"strength"`
	Timeframe     string          `db:"timeframe"`
	Price         float64         `db:"price"`
	Source        string          `db:"source"`
	Message       sql.NullString  `db:"message"`
	IndicatorData json.RawMessage `db:"indicator_data"`
	CreatedAt     time.Time       `db:"created_at"`
	Processed     bool            `db:"processed"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	ProcessedBy   sql.NullString  `db:"processed_by"`
}

func (r *signalRow) toModel() *models.Signal {
	s := &models.Signal{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Kind:        r.Kind,
		Strength:    r.Strength,
		Timeframe:   r.Timeframe,
		Price:       r.Price,
		Source:      r.Source,
		Message:     r.Message.String,
		CreatedAt:   r.CreatedAt,
		Processed:   r.Processed,
		ProcessedAt: r.ProcessedAt,
		ProcessedBy: r.ProcessedBy.String,
	}
	if len(r.IndicatorData) > 0 {
		if err := json.Unmarshal(r.IndicatorData, &s.IndicatorData); err != nil {
			// malformed payload surfaces at eligibility time as a
			// data-quality skip, not here
			s.IndicatorData = nil
		}
	}
	return s
}

// CountUnprocessed returns the number of pending actionable signals.
func (s *PostgresSignalStore) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM signal_history WHERE processed = false AND signal_type = ANY($1)`,
		pq.Array(actionableKinds))
	if err != nil {
		return 0, fmt.Errorf("count unprocessed: %w", err)
	}
	return n, nil
}

// FetchUnprocessed returns up to limit pending actionable signals,
// newest first.
func (s *PostgresSignalStore) FetchUnprocessed(ctx context.Context, limit int) ([]*models.Signal, error) {
	var rows []signalRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, symbol, signal_type, strength, timeframe, price, source, message,
		        indicator_data, created_at, processed, processed_at, processed_by
		   FROM signal_history
		  WHERE processed = false AND signal_type = ANY($1)
		  ORDER BY created_at DESC
		  LIMIT $2`,
		pq.Array(actionableKinds), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed: %w", err)
	}

	signals := make([]*models.Signal, 0, len(rows))
	for i := range rows {
		signals = append(signals, rows[i].toModel())
	}
	return signals, nil
}

// MarkProcessed completes a signal if and only if it is still pending.
// Zero rows affected means another worker won the race; that is a
// benign no-op, not an error.
func (s *PostgresSignalStore) MarkProcessed(ctx context.Context, signalID int64, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signal_history
		    SET processed = true, processed_at = $2, processed_by = $3
		  WHERE id = $1 AND processed = false`,
		signalID, time.Now().UTC(), workerID)
	if err != nil {
		return false, fmt.Errorf("mark processed %d: %w", signalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed %d: rows affected: %w", signalID, err)
	}
	return n > 0, nil
}

// SweepNonActionable completes pending informational signals without
// dispatching them.
func (s *PostgresSignalStore) SweepNonActionable(ctx context.Context, workerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signal_history
		    SET processed = true, processed_at = $1, processed_by = $2
		  WHERE processed = false AND NOT (signal_type = ANY($3))`,
		time.Now().UTC(), workerID, pq.Array(actionableKinds))
	if err != nil {
		return 0, fmt.Errorf("sweep non-actionable: %w", err)
	}
	return res.RowsAffected()
}

// Insert persists a new unprocessed signal (the Kafka ingest path).
func (s *PostgresSignalStore) Insert(ctx context.Context, sig *models.Signal) error {
	data, err := json.Marshal(sig.IndicatorData)
	if err != nil {
		return fmt.Errorf("marshal indicator data: %w", err)
	}
	created := sig.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO signal_history
		        (symbol, signal_type, strength, timeframe, price, source, message, indicator_data, created_at, processed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)`,
		sig.Symbol, sig.Kind, sig.Strength, sig.Timeframe, sig.Price, sig.Source, sig.Message, data, created)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// Status summarizes the store for ops reporting.
func (s *PostgresSignalStore) Status(ctx context.Context) (*models.StoreStatus, error) {
	st := &models.StoreStatus{}

	if err := s.db.GetContext(ctx, &st.UnprocessedSignals,
		`SELECT COUNT(*) FROM signal_history WHERE processed = false`); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.TotalSignals,
		`SELECT COUNT(*) FROM signal_history`); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	var last time.Time
	err := s.db.GetContext(ctx, &last,
		`SELECT created_at FROM signal_history ORDER BY created_at DESC LIMIT 1`)
	switch {
	case err == nil:
		st.LastSignalAt = &last
	case errors.Is(err, sql.ErrNoRows):
		// empty table
	default:
		return nil, fmt.Errorf("status: %w", err)
	}

	return st, nil
}

// Health pings the database.
func (s *PostgresSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ domrepo.SignalStore = (*PostgresSignalStore)(nil)
