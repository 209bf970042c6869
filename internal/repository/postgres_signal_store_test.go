package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SigRelay/pkg/logger"
)

func newMockSignalStore(t *testing.T) (*PostgresSignalStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresSignalStore(sqlx.NewDb(db, "sqlmock"), logger.Nop()), mock
}

func TestMarkProcessedIdempotent(t *testing.T) {
	store, mock := newMockSignalStore(t)
	q := regexp.QuoteMeta(`UPDATE signal_history`)

	// first worker wins the conditional update
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.MarkProcessed(context.Background(), 42, "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// second call hits processed=true, zero rows: benign no-op
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.MarkProcessed(context.Background(), 42, "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUnprocessed(t *testing.T) {
	store, mock := newMockSignalStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM signal_history WHERE processed = false AND signal_type = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountUnprocessed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestFetchUnprocessedParsesIndicators(t *testing.T) {
	store, mock := newMockSignalStore(t)

	data, _ := json.Marshal(map[string]map[string]float64{"RSI": {"value": 18, "period": 14}})
	rows := sqlmock.NewRows([]string{
		"id", "symbol", "signal_type", "strength", "timeframe", "price", "source",
		"message", "indicator_data", "created_at", "processed", "processed_at", "processed_by",
	}).AddRow(
		int64(1), "BTC", "BUY", "STRONG", "1h", 68000.0, "binance",
		"oversold", data, time.Now().UTC(), false, nil, nil,
	)

	mock.ExpectQuery(`SELECT id, symbol, signal_type`).WillReturnRows(rows)

	signals, err := store.FetchUnprocessed(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	v, ok := signals[0].IndicatorData.Value("RSI")
	require.True(t, ok)
	assert.Equal(t, 18.0, v)
	assert.True(t, signals[0].Actionable())
}

func TestSweepNonActionable(t *testing.T) {
	store, mock := newMockSignalStore(t)

	mock.ExpectExec(`UPDATE signal_history`).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.SweepNonActionable(context.Background(), "worker-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
