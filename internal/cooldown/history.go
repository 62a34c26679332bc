package cooldown

import (
	"context"
	"fmt"
	"time"

	"price-tier-alerts/internal/monitor"
)

// AlertHistory is the read side of the history store the ledger needs.
type AlertHistory interface {
	AlertsSince(ctx context.Context, symbol string, tiers []monitor.AlertTier, since time.Time) ([]monitor.AlertRecord, error)
}

// History answers cooldown queries from persisted alert records, so a restart
// does not reopen every cooldown. Sends recorded in this process are also kept
// in memory, which covers the window between a send and its history write.
type History struct {
	store  AlertHistory
	recent *Memory
}

// NewHistory constructs a history-backed ledger.
func NewHistory(store AlertHistory) *History {
	return &History{store: store, recent: NewMemory()}
}

// IsOnCooldown implements Ledger.
func (h *History) IsOnCooldown(ctx context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	if hit, _ := h.recent.IsOnCooldown(ctx, asset, category, now, window); hit {
		return true, nil
	}

	records, err := h.store.AlertsSince(ctx, asset, category.Tiers(), now.Add(-window))
	if err != nil {
		return false, fmt.Errorf("query alert history: %w", err)
	}
	for _, rec := range records {
		if onCooldown(rec.SentAt, now, window) {
			return true, nil
		}
	}
	return false, nil
}

// RecordSent implements Ledger.
func (h *History) RecordSent(ctx context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) error {
	return h.recent.RecordSent(ctx, asset, category, now, window)
}

var _ Ledger = (*History)(nil)
