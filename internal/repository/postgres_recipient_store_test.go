package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SigRelay/pkg/logger"
)

func newMockRecipientStore(t *testing.T) (*PostgresRecipientStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRecipientStore(sqlx.NewDb(db, "sqlmock"), logger.Nop()), mock
}

func recipientRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "recipient_id", "address", "config_name", "description", "active", "priority",
		"symbols", "timeframes", "thresholds", "anti_spam", "signals_received",
		"last_signal_at", "last_activity", "created_at", "updated_at",
	})
}

func TestListActiveAppliesDefaults(t *testing.T) {
	store, mock := newMockRecipientStore(t)
	now := time.Now().UTC()

	rows := recipientRows().AddRow(
		int64(1), "chat-100", "addr-100", "main", nil, true, 2,
		pq.StringArray{"BTC", "ETH"}, pq.StringArray{"1h"},
		[]byte(`{"RSI":{"enabled":true,"oversold":25}}`),
		nil, // no anti-spam blob: defaults apply
		4, nil, now, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM recipient_configs`).WillReturnRows(rows)

	configs, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)

	c := configs[0]
	assert.Equal(t, 3, c.AntiSpam.MaxSignalsPerDay, "default daily cap")
	assert.Equal(t, 2.0, c.AntiSpam.MinIndicatorDelta, "default min delta")
	assert.Equal(t, 15, c.AntiSpam.CooldownMinutes.Minutes("15m", "STRONG"))

	th := c.Thresholds["RSI"]
	assert.Equal(t, 25.0, th.Oversold)
	assert.Equal(t, 80.0, th.Overbought, "defaulted band side")
	assert.True(t, c.HasSymbol("btc"), "symbol match is case-insensitive")
}

func TestDeactivate(t *testing.T) {
	store, mock := newMockRecipientStore(t)

	mock.ExpectExec(`UPDATE recipient_configs`).WillReturnResult(sqlmock.NewResult(0, 2))
	ok, err := store.Deactivate(context.Background(), "chat-100")
	require.NoError(t, err)
	assert.True(t, ok)

	// already inactive: no rows touched
	mock.ExpectExec(`UPDATE recipient_configs`).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Deactivate(context.Background(), "chat-100")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordDelivery(t *testing.T) {
	store, mock := newMockRecipientStore(t)

	mock.ExpectExec(`UPDATE recipient_configs`).
		WithArgs("chat-100", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordDelivery(context.Background(), "chat-100", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
