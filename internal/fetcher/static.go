package fetcher

import (
	"context"
	"fmt"

	"price-tier-alerts/internal/monitor"
)

// Static serves fixed observations keyed by symbol. simulate-alert uses it to
// push a hand-made observation through the real engine.
type Static map[string]monitor.PriceObservation

// FetchAll implements PriceSource.
func (s Static) FetchAll(_ context.Context, watchlist monitor.Watchlist) (map[string]monitor.PriceObservation, error) {
	out := make(map[string]monitor.PriceObservation, len(watchlist))
	for _, asset := range watchlist {
		if obs, ok := s[asset.Symbol]; ok {
			out[asset.Symbol] = obs
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no static observation for watchlist", monitor.ErrSourceUnavailable)
	}
	return out, nil
}

var _ PriceSource = Static(nil)
