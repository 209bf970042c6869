package usecase

import (
	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

// Resolver decides which recipients are eligible for a signal. Each
// recipient may hold several subscription configs; configs are evaluated
// in priority order and the first match wins, so one recipient never
// receives the same signal twice through overlapping configs.
type Resolver struct {
	log *logger.Logger
}

func NewResolver(log *logger.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve returns, per recipient, the single highest-priority config
// matching the signal. The input must already be sorted by priority
// descending, which is how the recipient store lists them. Incomplete
// signals resolve to nobody.
func (r *Resolver) Resolve(sig *models.Signal, configs []*models.RecipientConfig) []*models.RecipientConfig {
	if !sig.Complete() {
		r.log.Warn("skipping incomplete signal",
			logger.Int64("signal_id", sig.ID),
			logger.String("symbol", sig.Symbol),
			logger.String("kind", sig.Kind),
			logger.String("timeframe", sig.Timeframe))
		return nil
	}

	var eligible []*models.RecipientConfig
	matched := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if matched[cfg.RecipientID] {
			continue
		}
		if !r.matches(sig, cfg) {
			continue
		}
		matched[cfg.RecipientID] = true
		eligible = append(eligible, cfg)
	}
	return eligible
}

func (r *Resolver) matches(sig *models.Signal, cfg *models.RecipientConfig) bool {
	if !cfg.Active {
		return false
	}
	if !cfg.HasSymbol(sig.Symbol) {
		return false
	}
	if !cfg.HasTimeframe(sig.Timeframe) {
		return false
	}
	return r.thresholdsSatisfied(sig, cfg)
}

// thresholdsSatisfied checks every enabled indicator band the config
// declares. A band with no corresponding value on the signal is treated
// as satisfied; only a present value outside the band disqualifies.
func (r *Resolver) thresholdsSatisfied(sig *models.Signal, cfg *models.RecipientConfig) bool {
	for name, th := range cfg.Thresholds {
		if !th.Enabled {
			continue
		}
		value, ok := sig.IndicatorData.Value(name)
		if !ok {
			continue
		}
		switch {
		case sig.IsBuyClass():
			if value > th.Oversold {
				return false
			}
		case sig.IsSellClass():
			if value < th.Overbought {
				return false
			}
		}
	}
	return true
}
