package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// IndicatorThreshold configures the eligibility band for one indicator.
// A buy-class signal requires the indicator value at or below Oversold,
// a sell-class signal at or above Overbought. Disabled thresholds are
// treated as satisfied.
type IndicatorThreshold struct {
	Enabled    bool    `json:"enabled" default:"true"`
	Oversold   float64 `json:"oversold" default:"20" validate:"gte=0,lte=100"`
	Overbought float64 `json:"overbought" default:"80" validate:"gte=0,lte=100"`
}

// ThresholdConfig maps indicator name to its band configuration.
type ThresholdConfig map[string]IndicatorThreshold

// CooldownTable maps timeframe to strength (lowercased) to cooldown
// minutes. Zero or absent entries mean no cooldown.
type CooldownTable map[string]map[string]int

// Minutes returns the cooldown for a timeframe and strength.
func (t CooldownTable) Minutes(timeframe, strength string) int {
	tf, ok := t[timeframe]
	if !ok {
		return 0
	}
	return tf[strings.ToLower(strength)]
}

// AntiSpamConfig holds the per-recipient suppression policy.
type AntiSpamConfig struct {
	MaxSignalsPerDay  int           `json:"max_signals_per_day" default:"3" validate:"gte=0"`
	CooldownMinutes   CooldownTable `json:"cooldown_minutes"`
	MinIndicatorDelta float64       `json:"min_rsi_difference" default:"2" validate:"gte=0"`
}

// DefaultAntiSpamConfig returns the policy applied when a recipient has
// none configured.
func DefaultAntiSpamConfig() AntiSpamConfig {
	c := AntiSpamConfig{
		CooldownMinutes: CooldownTable{
			"15m": {"strong": 15, "moderate": 30, "weak": 60},
			"1h":  {"strong": 60, "moderate": 120, "weak": 240},
			"4h":  {"strong": 120, "moderate": 240, "weak": 360},
		},
	}
	_ = defaults.Set(&c)
	return c
}

// Normalize applies defaults and validates the policy. Called once when
// a config is loaded or updated, never at read sites.
func (c *AntiSpamConfig) Normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("antispam defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("antispam config: %w", err)
	}
	return nil
}

// Normalize applies defaults and validates every band.
func (t ThresholdConfig) Normalize() error {
	for name, th := range t {
		if err := defaults.Set(&th); err != nil {
			return fmt.Errorf("threshold defaults %s: %w", name, err)
		}
		if err := validate.Struct(th); err != nil {
			return fmt.Errorf("threshold %s: %w", name, err)
		}
		if th.Oversold > th.Overbought {
			return fmt.Errorf("threshold %s: oversold %.1f above overbought %.1f", name, th.Oversold, th.Overbought)
		}
		t[name] = th
	}
	return nil
}

// RecipientConfig is one named subscription configuration belonging to a
// recipient. A recipient may hold several; (RecipientID, ConfigName) is
// unique and the highest-priority matching config wins per signal.
type RecipientConfig struct {
	ID          int64
	RecipientID string // recipient identity, stable across configs
	Address     string // opaque identifier on the outbound channel
	ConfigName  string
	Description string
	Active      bool
	Priority    int // higher wins

	Symbols    []string
	Timeframes []string
	Thresholds ThresholdConfig
	AntiSpam   AntiSpamConfig

	SignalsReceived int
	LastSignalAt    *time.Time
	LastActivity    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSymbol reports whether the config subscribes to the symbol,
// case-insensitively.
func (c *RecipientConfig) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// HasTimeframe reports whether the config subscribes to the timeframe.
func (c *RecipientConfig) HasTimeframe(tf string) bool {
	for _, t := range c.Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Validate checks structural invariants of an active config.
func (c *RecipientConfig) Validate() error {
	if c.RecipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	if c.ConfigName == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Active && len(c.Symbols) == 0 {
		return fmt.Errorf("active config %s has no symbols", c.ConfigName)
	}
	if c.Active && len(c.Timeframes) == 0 {
		return fmt.Errorf("active config %s has no timeframes", c.ConfigName)
	}
	if err := c.Thresholds.Normalize(); err != nil {
		return err
	}
	return c.AntiSpam.Normalize()
}

// RecipientStats is the per-recipient summary served by the ops API.
type RecipientStats struct {
	RecipientID     string     `json:"recipient_id"`
	ActiveConfigs   int        `json:"active_configs"`
	SignalsReceived int        `json:"signals_received"`
	LastSignalAt    *time.Time `json:"last_signal_at,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
}
