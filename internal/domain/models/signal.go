package models

import (
	"strings"
	"time"
)

// Signal kinds as produced by the analysis engine.
const (
	KindBuy        = "BUY"
	KindStrongBuy  = "STRONG_BUY"
	KindSell       = "SELL"
	KindStrongSell = "STRONG_SELL"
	KindHold       = "HOLD"
)

// Signal strengths.
const (
	StrengthWeak     = "WEAK"
	StrengthModerate = "MODERATE"
	StrengthStrong   = "STRONG"
)

// IndicatorValues holds the computed values of one indicator, keyed by
// value name ("value", "period", ...).
type IndicatorValues map[string]float64

// IndicatorData maps indicator name to its computed values.
type IndicatorData map[string]IndicatorValues

// Value returns the primary value of the named indicator.
func (d IndicatorData) Value(name string) (float64, bool) {
	iv, ok := d[name]
	if !ok {
		return 0, false
	}
	v, ok := iv["value"]
	return v, ok
}

// Signal is one detected market condition event. It is created by the
// external analysis engine and mutated exactly once here: unprocessed
// to processed.
type Signal struct {
	ID            int64
	Symbol        string
	Kind          string // BUY, SELL, HOLD, STRONG_*
	Strength      string // WEAK, MODERATE, STRONG
	Timeframe     string // 15m, 1h, 4h, ...
	Price         float64
	Source        string // originating exchange or feed
	Message       string
	IndicatorData IndicatorData
	CreatedAt     time.Time

	Processed   bool
	ProcessedAt *time.Time
	ProcessedBy string
}

// IsBuyClass reports whether the signal is a directional buy.
func (s *Signal) IsBuyClass() bool {
	k := strings.ToUpper(s.Kind)
	return k == KindBuy || k == KindStrongBuy
}

// IsSellClass reports whether the signal is a directional sell.
func (s *Signal) IsSellClass() bool {
	k := strings.ToUpper(s.Kind)
	return k == KindSell || k == KindStrongSell
}

// Actionable reports whether the signal should be dispatched to
// recipients. Informational kinds are marked processed without dispatch.
func (s *Signal) Actionable() bool {
	return s.IsBuyClass() || s.IsSellClass()
}

// Complete reports whether the fields needed for eligibility matching
// are present. Incomplete signals are skipped as data-quality failures.
func (s *Signal) Complete() bool {
	return s.Symbol != "" && s.Timeframe != "" && s.Kind != ""
}
