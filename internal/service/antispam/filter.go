package antispam

import (
	"context"
	"math"
	"time"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// Filter names reported in suppression verdicts and metrics labels.
const (
	FilterDailyCap = "daily_cap"
	FilterCooldown = "cooldown"
	FilterMinDelta = "min_delta"
)

// Verdict is the outcome of running a signal through the filter chain.
type Verdict struct {
	Allowed bool
	// Filter names the check that suppressed the signal. Empty when
	// allowed.
	Filter string
	Reason string
}

var allow = Verdict{Allowed: true}

func suppress(filter, reason string) Verdict {
	return Verdict{Filter: filter, Reason: reason}
}

// Chain evaluates a recipient's anti-spam policy against a candidate
// signal. Checks run cheapest first and the first suppressing check
// wins. State errors follow the fail-open policy: when failOpen is set
// a failed lookup lets the signal through, otherwise it suppresses.
type Chain struct {
	state     State
	metrics   repository.Metrics
	log       *logger.Logger
	indicator string
	failOpen  bool
	now       func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithFailOpen sets the behavior when state lookups fail.
func WithFailOpen(failOpen bool) ChainOption {
	return func(c *Chain) { c.failOpen = failOpen }
}

// WithIndicator sets the indicator used for the minimum delta check.
func WithIndicator(name string) ChainOption {
	return func(c *Chain) { c.indicator = name }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

func NewChain(state State, metrics repository.Metrics, log *logger.Logger, opts ...ChainOption) *Chain {
	c := &Chain{
		state:     state,
		metrics:   metrics,
		log:       log,
		indicator: "RSI",
		failOpen:  true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs the chain for one recipient and signal. The recipient's
// own AntiSpamConfig is consulted, so two recipients can disagree about
// the same signal.
func (c *Chain) Check(ctx context.Context, rec *models.RecipientConfig, sig *models.Signal) Verdict {
	now := c.now().UTC()
	cfg := rec.AntiSpam

	if v := c.checkDailyCap(ctx, rec, sig, cfg, now); !v.Allowed {
		return v
	}
	if v := c.checkCooldown(ctx, rec, sig, cfg, now); !v.Allowed {
		return v
	}
	if v := c.checkMinDelta(ctx, rec, sig, cfg); !v.Allowed {
		return v
	}
	return allow
}

func (c *Chain) checkDailyCap(ctx context.Context, rec *models.RecipientConfig, sig *models.Signal, cfg models.AntiSpamConfig, now time.Time) Verdict {
	if cfg.MaxSignalsPerDay <= 0 {
		return allow
	}
	count, err := c.state.DailyCount(ctx, rec.RecipientID, sig.Symbol, now)
	if err != nil {
		return c.onStateError(FilterDailyCap, rec, sig, err)
	}
	if count >= cfg.MaxSignalsPerDay {
		return suppress(FilterDailyCap, "daily signal cap reached")
	}
	return allow
}

// checkCooldown anchors on the freshest of the stored config snapshot
// and the shared state, so deliveries earlier in the same batch are
// seen before the snapshot is reloaded.
func (c *Chain) checkCooldown(ctx context.Context, rec *models.RecipientConfig, sig *models.Signal, cfg models.AntiSpamConfig, now time.Time) Verdict {
	minutes := cfg.CooldownMinutes.Minutes(sig.Timeframe, sig.Strength)
	if minutes <= 0 {
		return allow
	}

	last := rec.LastSignalAt
	sent, found, err := c.state.LastDelivery(ctx, rec.RecipientID)
	if err != nil {
		return c.onStateError(FilterCooldown, rec, sig, err)
	}
	if found && (last == nil || sent.After(*last)) {
		last = &sent
	}
	if last == nil {
		return allow
	}

	window := time.Duration(minutes) * time.Minute
	if now.Sub(last.UTC()) < window {
		return suppress(FilterCooldown, "cooldown window active")
	}
	return allow
}

func (c *Chain) checkMinDelta(ctx context.Context, rec *models.RecipientConfig, sig *models.Signal, cfg models.AntiSpamConfig) Verdict {
	if cfg.MinIndicatorDelta <= 0 {
		return allow
	}
	current, ok := sig.IndicatorData.Value(c.indicator)
	if !ok {
		// nothing to compare against
		return allow
	}
	last, found, err := c.state.LastValue(ctx, rec.RecipientID, sig.Symbol, c.indicator)
	if err != nil {
		return c.onStateError(FilterMinDelta, rec, sig, err)
	}
	if !found {
		return allow
	}
	if math.Abs(current-last) < cfg.MinIndicatorDelta {
		return suppress(FilterMinDelta, "indicator moved less than threshold")
	}
	return allow
}

// RecordDelivery stamps the shared state after a successful send so the
// daily cap and delta checks see it on the next cycle. Failures are
// logged but never undo the delivery.
func (c *Chain) RecordDelivery(ctx context.Context, rec *models.RecipientConfig, sig *models.Signal) {
	var value *float64
	if v, ok := sig.IndicatorData.Value(c.indicator); ok {
		value = &v
	}
	if err := c.state.RecordDelivery(ctx, rec.RecipientID, sig.Symbol, c.indicator, value, c.now().UTC()); err != nil {
		c.metrics.RecordError("antispam_state")
		c.log.Warn("failed to record delivery in anti-spam state",
			logger.String("recipient_id", rec.RecipientID),
			logger.String("symbol", sig.Symbol),
			logger.Error(err))
	}
}

func (c *Chain) onStateError(filter string, rec *models.RecipientConfig, sig *models.Signal, err error) Verdict {
	c.metrics.RecordError("antispam_state")
	c.log.Warn("anti-spam state lookup failed",
		logger.String("filter", filter),
		logger.String("recipient_id", rec.RecipientID),
		logger.String("symbol", sig.Symbol),
		logger.Bool("fail_open", c.failOpen),
		logger.Error(err))
	if c.failOpen {
		return allow
	}
	return suppress(filter, "state unavailable")
}
