package fetcher

import (
	"context"
	"fmt"
	"time"

	"price-tier-alerts/internal/monitor"
)

// PriceSource retrieves the current observation for every asset in a watchlist.
// Assets the source could not price are absent from the result. An error means
// nothing usable was returned.
type PriceSource interface {
	FetchAll(ctx context.Context, watchlist monitor.Watchlist) (map[string]monitor.PriceObservation, error)
}

// RetryPolicy is a bounded retry with a fixed delay between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs fn until it succeeds or the attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

// idIndex maps source ids back to watchlist symbols, keeping first-seen id order.
func idIndex(watchlist monitor.Watchlist) ([]string, map[string][]string) {
	ids := make([]string, 0, len(watchlist))
	symbols := make(map[string][]string, len(watchlist))
	for _, asset := range watchlist {
		if _, seen := symbols[asset.SourceID]; !seen {
			ids = append(ids, asset.SourceID)
		}
		symbols[asset.SourceID] = append(symbols[asset.SourceID], asset.Symbol)
	}
	return ids, symbols
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
