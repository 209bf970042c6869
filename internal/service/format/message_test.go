package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SigRelay/internal/domain/models"
)

func TestMessageLayout(t *testing.T) {
	s := &models.Signal{
		Symbol:    "btcusdt",
		Kind:      models.KindStrongBuy,
		Strength:  models.StrengthStrong,
		Timeframe: "1h",
		Price:     63125.5,
		IndicatorData: models.IndicatorData{
			"RSI": models.IndicatorValues{"value": 18.24},
		},
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	msg := Message(s)
	lines := strings.Split(msg, "\n")
	require.Equal(t, "\U0001F7E2\U0001F7E2 STRONG BUY <b>BTCUSDT</b>", lines[0])
	require.Contains(t, msg, "Timeframe: <b>1h</b>")
	require.Contains(t, msg, "Price: <b>$63,125.50</b>")
	require.Contains(t, msg, "RSI: <b>18.2</b>")
	require.Contains(t, msg, "Strength: STRONG")
	require.Contains(t, msg, "Time: 2026-03-10 12:00 UTC")
}

func TestMessageOmitsMissingFields(t *testing.T) {
	s := &models.Signal{
		Symbol:    "ETHUSDT",
		Kind:      models.KindSell,
		Timeframe: "4h",
		Price:     0.04372,
	}

	msg := Message(s)
	require.NotContains(t, msg, "RSI:")
	require.NotContains(t, msg, "Strength:")
	require.NotContains(t, msg, "Time:")
	require.Contains(t, msg, "Price: <b>$0.04372</b>")
}

func TestMessageUnknownKindFallsBack(t *testing.T) {
	s := &models.Signal{Symbol: "SOLUSDT", Kind: "rebalance", Timeframe: "1d", Price: 151.2}
	msg := Message(s)
	require.True(t, strings.HasPrefix(msg, "REBALANCE <b>SOLUSDT</b>"))
}
