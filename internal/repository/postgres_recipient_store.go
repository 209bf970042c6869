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

// PostgresRecipientStore holds subscription configurations.
type PostgresRecipientStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewPostgresRecipientStore(db *sqlx.DB, log *logger.Logger) *PostgresRecipientStore {
	return &PostgresRecipientStore{db: db, log: log}
}

type recipientRow struct {
	ID              int64           `db:"id"`
	RecipientID     string          `db:"recipient_id"`
	Address         string          `db:"address"`
	ConfigName      string          `db:"config_name"`
	Description     sql.NullString  `db:"description"`
	Active          bool            `db:"active"`
	Priority        int             `db:"priority"`
	Symbols         pq.StringArray  `db:"symbols"`
	Timeframes      pq.StringArray  `db:"timeframes"`
	Thresholds      json.RawMessage `db:"thresholds"`
	AntiSpam        json.RawMessage `db:"anti_spam"`
	SignalsReceived int             `db:"signals_received"`
	LastSignalAt    *time.Time      `db:"last_signal_at"`
	LastActivity    time.Time       `db:"last_activity"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

const recipientColumns = `id, recipient_id, address, config_name, description, active, priority,
	symbols, timeframes, thresholds, anti_spam, signals_received, last_signal_at,
	last_activity, created_at, updated_at`

func (r *recipientRow) toModel(log *logger.Logger) *models.RecipientConfig {
	c := &models.RecipientConfig{
		ID:              r.ID,
		RecipientID:     r.RecipientID,
		Address:         r.Address,
		ConfigName:      r.ConfigName,
		Description:     r.Description.String,
		Active:          r.Active,
		Priority:        r.Priority,
		Symbols:         []string(r.Symbols),
		Timeframes:      []string(r.Timeframes),
		SignalsReceived: r.SignalsReceived,
		LastSignalAt:    r.LastSignalAt,
		LastActivity:    r.LastActivity,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	if len(r.Thresholds) > 0 {
		if err := json.Unmarshal(r.Thresholds, &c.Thresholds); err != nil {
			log.Warn("malformed threshold config, using empty",
				logger.String("recipient", r.RecipientID),
				logger.String("config", r.ConfigName),
				logger.Error(err))
		}
	}

	if len(r.AntiSpam) > 0 {
		if err := json.Unmarshal(r.AntiSpam, &c.AntiSpam); err != nil {
			log.Warn("malformed anti-spam config, using defaults",
				logger.String("recipient", r.RecipientID),
				logger.Error(err))
			c.AntiSpam = models.DefaultAntiSpamConfig()
		} else if err := c.AntiSpam.Normalize(); err != nil {
			log.Warn("invalid anti-spam config, using defaults",
				logger.String("recipient", r.RecipientID),
				logger.Error(err))
			c.AntiSpam = models.DefaultAntiSpamConfig()
		}
	} else {
		c.AntiSpam = models.DefaultAntiSpamConfig()
	}

	if err := c.Thresholds.Normalize(); err != nil {
		log.Warn("invalid threshold config, dropping bands",
			logger.String("recipient", r.RecipientID),
			logger.Error(err))
		c.Thresholds = models.ThresholdConfig{}
	}

	return c
}

// ListActive returns active configs sorted by priority descending, then
// by recency for stable ordering.
func (s *PostgresRecipientStore) ListActive(ctx context.Context) ([]*models.RecipientConfig, error) {
	var rows []recipientRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+recipientColumns+`
		   FROM recipient_configs
		  WHERE active = true
		  ORDER BY priority DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active configs: %w", err)
	}

	configs := make([]*models.RecipientConfig, 0, len(rows))
	for i := range rows {
		configs = append(configs, rows[i].toModel(s.log))
	}
	return configs, nil
}

// Get fetches one config by its unique (recipient, name) key.
func (s *PostgresRecipientStore) Get(ctx context.Context, recipientID, configName string) (*models.RecipientConfig, error) {
	var row recipientRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+recipientColumns+`
		   FROM recipient_configs
		  WHERE recipient_id = $1 AND config_name = $2`,
		recipientID, configName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config %s/%s: %w", recipientID, configName, err)
	}
	return row.toModel(s.log), nil
}

// RecordDelivery bumps the delivery counters after a successful send.
// Two workers racing on the same recipient is tolerated as
// last-writer-wins; the counters are advisory.
func (s *PostgresRecipientStore) RecordDelivery(ctx context.Context, recipientID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recipient_configs
		    SET signals_received = signals_received + 1,
		        last_signal_at = $2,
		        last_activity = $2,
		        updated_at = $2
		  WHERE recipient_id = $1`,
		recipientID, at.UTC())
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", recipientID, err)
	}
	return nil
}

// Deactivate disables all configs of a recipient after a permanent
// channel rejection. Subscriptions are never hard-deleted here.
func (s *PostgresRecipientStore) Deactivate(ctx context.Context, recipientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipient_configs
		    SET active = false, updated_at = $2
		  WHERE recipient_id = $1 AND active = true`,
		recipientID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("deactivate %s: %w", recipientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats aggregates the recipient's counters for the ops API.
func (s *PostgresRecipientStore) Stats(ctx context.Context, recipientID string) (*models.RecipientStats, error) {
	var row struct {
		ActiveConfigs   int        `db:"active_configs"`
		SignalsReceived int        `db:"signals_received"`
		LastSignalAt    *time.Time `db:"last_signal_at"`
		LastActivity    *time.Time `db:"last_activity"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) FILTER (WHERE active) AS active_configs,
		        COALESCE(MAX(signals_received), 0) AS signals_received,
		        MAX(last_signal_at) AS last_signal_at,
		        MAX(last_activity) AS last_activity
		   FROM recipient_configs
		  WHERE recipient_id = $1`,
		recipientID)
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", recipientID, err)
	}
	if row.ActiveConfigs == 0 && row.SignalsReceived == 0 && row.LastActivity == nil {
		return nil, domrepo.ErrNotFound
	}
	return &models.RecipientStats{
		RecipientID:     recipientID,
		ActiveConfigs:   row.ActiveConfigs,
		SignalsReceived: row.SignalsReceived,
		LastSignalAt:    row.LastSignalAt,
		LastActivity:    row.LastActivity,
	}, nil
}

// PurgeInactive deletes configs deactivated before the cutoff.
func (s *PostgresRecipientStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recipient_configs WHERE active = false AND updated_at < $1`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge inactive: %w", err)
	}
	return res.RowsAffected()
}

// Health pings the database.
func (s *PostgresRecipientStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ domrepo.RecipientStore = (*PostgresRecipientStore)(nil)
