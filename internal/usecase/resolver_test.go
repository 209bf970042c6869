package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

func buySignal(rsi float64) *models.Signal {
	return &models.Signal{
		ID:        1,
		Symbol:    "BTCUSDT",
		Kind:      models.KindBuy,
		Strength:  models.StrengthModerate,
		Timeframe: "1h",
		IndicatorData: models.IndicatorData{
			"RSI": models.IndicatorValues{"value": rsi},
		},
	}
}

func config(recipient, name string, priority int) *models.RecipientConfig {
	return &models.RecipientConfig{
		RecipientID: recipient,
		ConfigName:  name,
		Active:      true,
		Priority:    priority,
		Symbols:     []string{"BTCUSDT"},
		Timeframes:  []string{"1h"},
		Thresholds: models.ThresholdConfig{
			"RSI": {Enabled: true, Oversold: 30, Overbought: 70},
		},
	}
}

func TestResolveFirstMatchPerRecipient(t *testing.T) {
	r := NewResolver(logger.Nop())

	// priority-descending order, two configs for the same recipient
	high := config("alice", "aggressive", 10)
	low := config("alice", "fallback", 1)
	other := config("bob", "default", 5)

	eligible := r.Resolve(buySignal(25), []*models.RecipientConfig{high, other, low})
	require.Len(t, eligible, 2)
	require.Equal(t, "aggressive", eligible[0].ConfigName)
	require.Equal(t, "bob", eligible[1].RecipientID)
}

func TestResolveHigherPriorityNonMatchFallsThrough(t *testing.T) {
	r := NewResolver(logger.Nop())

	high := config("alice", "strict", 10)
	high.Thresholds = models.ThresholdConfig{
		"RSI": {Enabled: true, Oversold: 10, Overbought: 90},
	}
	low := config("alice", "loose", 1)

	eligible := r.Resolve(buySignal(25), []*models.RecipientConfig{high, low})
	require.Len(t, eligible, 1)
	require.Equal(t, "loose", eligible[0].ConfigName)
}

func TestResolveSymbolCaseInsensitive(t *testing.T) {
	r := NewResolver(logger.Nop())

	cfg := config("alice", "default", 1)
	cfg.Symbols = []string{"btcusdt"}

	eligible := r.Resolve(buySignal(25), []*models.RecipientConfig{cfg})
	require.Len(t, eligible, 1)
}

func TestResolveThresholdBands(t *testing.T) {
	r := NewResolver(logger.Nop())
	cfg := config("alice", "default", 1)

	// buy requires the indicator at or below oversold
	require.Empty(t, r.Resolve(buySignal(45), []*models.RecipientConfig{cfg}))
	require.Len(t, r.Resolve(buySignal(30), []*models.RecipientConfig{cfg}), 1)

	sell := buySignal(75)
	sell.Kind = models.KindSell
	require.Len(t, r.Resolve(sell, []*models.RecipientConfig{cfg}), 1)
	sell.IndicatorData["RSI"]["value"] = 55
	require.Empty(t, r.Resolve(sell, []*models.RecipientConfig{cfg}))
}

func TestResolveDisabledThresholdIgnored(t *testing.T) {
	r := NewResolver(logger.Nop())
	cfg := config("alice", "default", 1)
	cfg.Thresholds["RSI"] = models.IndicatorThreshold{Enabled: false, Oversold: 30, Overbought: 70}

	eligible := r.Resolve(buySignal(55), []*models.RecipientConfig{cfg})
	require.Len(t, eligible, 1)
}

func TestResolveMissingIndicatorValuePasses(t *testing.T) {
	r := NewResolver(logger.Nop())
	cfg := config("alice", "default", 1)

	sig := buySignal(25)
	sig.IndicatorData = nil

	eligible := r.Resolve(sig, []*models.RecipientConfig{cfg})
	require.Len(t, eligible, 1)
}

func TestResolveSkipsInactiveAndMismatched(t *testing.T) {
	r := NewResolver(logger.Nop())

	inactive := config("alice", "default", 1)
	inactive.Active = false

	wrongTF := config("bob", "default", 1)
	wrongTF.Timeframes = []string{"4h"}

	wrongSymbol := config("carol", "default", 1)
	wrongSymbol.Symbols = []string{"ETHUSDT"}

	eligible := r.Resolve(buySignal(25), []*models.RecipientConfig{inactive, wrongTF, wrongSymbol})
	require.Empty(t, eligible)
}

func TestResolveIncompleteSignal(t *testing.T) {
	r := NewResolver(logger.Nop())
	cfg := config("alice", "default", 1)

	sig := buySignal(25)
	sig.Timeframe = ""

	require.Empty(t, r.Resolve(sig, []*models.RecipientConfig{cfg}))
}
