package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one price reading for one asset within a polling cycle.
type PriceObservation struct {
	Symbol     string
	Price      decimal.Decimal
	Change24h  decimal.Decimal
	Volume24h  *decimal.Decimal
	MarketCap  *decimal.Decimal
	ObservedAt time.Time
}

// NewObservation validates raw source values and builds an observation.
func NewObservation(symbol string, price, change float64, volume, marketCap *float64, at time.Time) (PriceObservation, error) {
	if symbol == "" {
		return PriceObservation{}, fmt.Errorf("%w: empty symbol", ErrMalformedObservation)
	}
	if !finite(price) || price <= 0 {
		return PriceObservation{}, fmt.Errorf("%w: %s price %v", ErrMalformedObservation, symbol, price)
	}
	if !finite(change) {
		return PriceObservation{}, fmt.Errorf("%w: %s change %v", ErrMalformedObservation, symbol, change)
	}

	obs := PriceObservation{
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(price),
		Change24h:  decimal.NewFromFloat(change),
		ObservedAt: at.UTC(),
	}
	if volume != nil && finite(*volume) {
		v := decimal.NewFromFloat(*volume)
		obs.Volume24h = &v
	}
	if marketCap != nil && finite(*marketCap) {
		m := decimal.NewFromFloat(*marketCap)
		obs.MarketCap = &m
	}
	return obs, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ThresholdConfig holds the tier boundaries in percent.
type ThresholdConfig struct {
	Buy           decimal.Decimal
	MajorBuy      decimal.Decimal
	Sell          decimal.Decimal
	MajorSell     decimal.Decimal
	EmergencyStop decimal.Decimal
}

// Validate enforces emergency <= majorBuy <= buy < 0 < sell <= majorSell.
func (t ThresholdConfig) Validate() error {
	switch {
	case !t.Buy.IsNegative():
		return fmt.Errorf("%w: buy threshold %s must be negative", ErrConfigInvalid, t.Buy)
	case t.MajorBuy.GreaterThan(t.Buy):
		return fmt.Errorf("%w: major buy threshold %s must not exceed buy threshold %s", ErrConfigInvalid, t.MajorBuy, t.Buy)
	case !t.Sell.IsPositive():
		return fmt.Errorf("%w: sell threshold %s must be positive", ErrConfigInvalid, t.Sell)
	case t.MajorSell.LessThan(t.Sell):
		return fmt.Errorf("%w: major sell threshold %s must not be below sell threshold %s", ErrConfigInvalid, t.MajorSell, t.Sell)
	case t.EmergencyStop.GreaterThan(t.MajorBuy):
		return fmt.Errorf("%w: emergency stop threshold %s must not exceed major buy threshold %s", ErrConfigInvalid, t.EmergencyStop, t.MajorBuy)
	}
	return nil
}

// Asset maps a display symbol to the identifier used by the price source.
type Asset struct {
	Symbol   string
	SourceID string
}

// Watchlist is the ordered set of monitored assets.
type Watchlist []Asset

// Validate rejects empty or duplicate symbols.
func (w Watchlist) Validate() error {
	seen := make(map[string]struct{}, len(w))
	for _, a := range w {
		if a.Symbol == "" || a.SourceID == "" {
			return fmt.Errorf("%w: watchlist entry needs symbol and source id", ErrConfigInvalid)
		}
		if _, dup := seen[a.Symbol]; dup {
			return fmt.Errorf("%w: duplicate watchlist symbol %s", ErrConfigInvalid, a.Symbol)
		}
		seen[a.Symbol] = struct{}{}
	}
	return nil
}

// Symbols lists the watchlist symbols in order.
func (w Watchlist) Symbols() []string {
	out := make([]string, 0, len(w))
	for _, a := range w {
		out = append(out, a.Symbol)
	}
	return out
}

// WatchlistDiff is the set difference between two watchlists.
type WatchlistDiff struct {
	Added   []string
	Removed []string
}

// Empty reports whether nothing changed.
func (d WatchlistDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff computes symbols added in next and removed from prev, in watchlist order.
func Diff(prev, next Watchlist) WatchlistDiff {
	before := make(map[string]struct{}, len(prev))
	for _, a := range prev {
		before[a.Symbol] = struct{}{}
	}
	after := make(map[string]struct{}, len(next))
	for _, a := range next {
		after[a.Symbol] = struct{}{}
	}

	var diff WatchlistDiff
	for _, a := range next {
		if _, ok := before[a.Symbol]; !ok {
			diff.Added = append(diff.Added, a.Symbol)
		}
	}
	for _, a := range prev {
		if _, ok := after[a.Symbol]; !ok {
			diff.Removed = append(diff.Removed, a.Symbol)
		}
	}
	return diff
}

// Snapshot is an immutable view of the reloadable configuration used for exactly one cycle.
type Snapshot struct {
	Thresholds            ThresholdConfig
	Watchlist             Watchlist
	PollInterval          time.Duration
	Cooldown              time.Duration
	EmergencyCooldown     time.Duration
	DailyCap              int
	AnomalyThresholdPct   decimal.Decimal
	StartupNotification   bool
	RecordAllObservations bool
	Templates             Templates
	Revision              string
}

// Validate checks every invariant of the snapshot.
func (s *Snapshot) Validate() error {
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if err := s.Watchlist.Validate(); err != nil {
		return err
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrConfigInvalid)
	}
	if s.Cooldown < 0 || s.EmergencyCooldown < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrConfigInvalid)
	}
	if s.DailyCap <= 0 {
		return fmt.Errorf("%w: daily cap must be greater than zero", ErrConfigInvalid)
	}
	if s.AnomalyThresholdPct.IsNegative() {
		return fmt.Errorf("%w: anomaly threshold cannot be negative", ErrConfigInvalid)
	}
	return s.Templates.Validate()
}

// AlertRecord is the audit entry for one delivered notification.
type AlertRecord struct {
	ID        int64
	Symbol    string
	Tier      AlertTier
	Message   string
	Price     decimal.Decimal
	Change24h decimal.Decimal
	SentAt    time.Time
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
