package monitor

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AlertTier is the severity classification of a 24h move.
type AlertTier string

const (
	TierNone          AlertTier = "none"
	TierBuy           AlertTier = "buy"
	TierMajorBuy      AlertTier = "major_buy"
	TierSell          AlertTier = "sell"
	TierMajorSell     AlertTier = "major_sell"
	TierEmergencyStop AlertTier = "emergency_stop"
)

// Category groups tiers that share a cooldown.
type Category string

const (
	CategoryDirectional Category = "directional"
	CategoryEmergency   Category = "emergency"
)

// Category returns the cooldown group of the tier. TierNone has none.
func (t AlertTier) Category() Category {
	switch t {
	case TierBuy, TierMajorBuy, TierSell, TierMajorSell:
		return CategoryDirectional
	case TierEmergencyStop:
		return CategoryEmergency
	default:
		return ""
	}
}

// Tiers lists the tiers belonging to a category.
func (c Category) Tiers() []AlertTier {
	switch c {
	case CategoryDirectional:
		return []AlertTier{TierBuy, TierMajorBuy, TierSell, TierMajorSell}
	case CategoryEmergency:
		return []AlertTier{TierEmergencyStop}
	default:
		return nil
	}
}

// ParseTier converts a stored tier name.
func ParseTier(s string) (AlertTier, error) {
	switch t := AlertTier(s); t {
	case TierNone, TierBuy, TierMajorBuy, TierSell, TierMajorSell, TierEmergencyStop:
		return t, nil
	}
	return "", fmt.Errorf("unknown alert tier %q", s)
}

// Classify maps a 24h change to the most severe matching tier.
func Classify(change decimal.Decimal, cfg ThresholdConfig) AlertTier {
	switch {
	case change.LessThanOrEqual(cfg.EmergencyStop):
		return TierEmergencyStop
	case change.LessThanOrEqual(cfg.MajorBuy):
		return TierMajorBuy
	case change.LessThanOrEqual(cfg.Buy):
		return TierBuy
	case change.GreaterThanOrEqual(cfg.MajorSell):
		return TierMajorSell
	case change.GreaterThanOrEqual(cfg.Sell):
		return TierSell
	default:
		return TierNone
	}
}
