package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// signalEnvelope is the wire shape produced by the analysis engine.
type signalEnvelope struct {
	ID            int64                `json:"id"`
	Symbol        string               `json:"symbol"`
	Kind          string               `json:"signal_kind"`
	Strength      string               `json:"strength"`
	Timeframe     string               `json:"timeframe"`
	Price         float64              `json:"price"`
	Source        string               `json:"source"`
	Message       string               `json:"message"`
	IndicatorData models.IndicatorData `json:"indicator_data"`
	CreatedAt     time.Time            `json:"created_at"`
}

// SignalIngest consumes signal events from the analysis topic and
// persists them unprocessed for the next dispatch cycle.
type SignalIngest struct {
	topic   string
	signals drepo.SignalStore
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewSignalIngest(topic string, signals drepo.SignalStore, metrics drepo.Metrics, log *logger.Logger) *SignalIngest {
	return &SignalIngest{
		topic:   topic,
		signals: signals,
		metrics: metrics,
		log:     log,
	}
}

// Topic returns the source topic.
func (i *SignalIngest) Topic() string { return i.topic }

// Handle parses one signal event and inserts it. Malformed events are
// dropped with a warning rather than retried; they cannot heal.
func (i *SignalIngest) Handle(ctx context.Context, data []byte) error {
	var env signalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		i.metrics.RecordError("ingest_decode")
		i.log.Warn("dropping malformed signal event", logger.Error(err))
		return nil
	}

	sig := &models.Signal{
		ID:            env.ID,
		Symbol:        env.Symbol,
		Kind:          env.Kind,
		Strength:      env.Strength,
		Timeframe:     env.Timeframe,
		Price:         env.Price,
		Source:        env.Source,
		Message:       env.Message,
		IndicatorData: env.IndicatorData,
		CreatedAt:     env.CreatedAt,
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	if !sig.Complete() {
		i.metrics.RecordError("ingest_incomplete")
		i.log.Warn("dropping incomplete signal event",
			logger.String("symbol", sig.Symbol),
			logger.String("kind", sig.Kind),
			logger.String("timeframe", sig.Timeframe))
		return nil
	}

	if err := i.signals.Insert(ctx, sig); err != nil {
		i.metrics.RecordError("ingest_insert")
		return fmt.Errorf("insert signal: %w", err)
	}
	i.log.Debug("signal ingested",
		logger.Int64("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("kind", sig.Kind))
	return nil
}
