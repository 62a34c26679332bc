package cooldown

import (
	"context"
	"sync"
	"time"

	"price-tier-alerts/internal/monitor"
)

// Ledger tracks the last send per asset and alert category.
type Ledger interface {
	// IsOnCooldown reports whether less than window has passed since the last send.
	IsOnCooldown(ctx context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) (bool, error)
	// RecordSent advances the last-sent time. It never moves it backwards.
	// window is the cooldown in force for the send; stores that expire
	// entries keep them at least that long.
	RecordSent(ctx context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) error
}

type key struct {
	asset    string
	category monitor.Category
}

// Memory is a process-local ledger.
type Memory struct {
	mu       sync.Mutex
	lastSent map[key]time.Time
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{lastSent: make(map[key]time.Time)}
}

// IsOnCooldown implements Ledger.
func (m *Memory) IsOnCooldown(_ context.Context, asset string, category monitor.Category, now time.Time, window time.Duration) (bool, error) {
	last, ok := m.LastSent(asset, category)
	return ok && onCooldown(last, now, window), nil
}

// RecordSent implements Ledger.
func (m *Memory) RecordSent(_ context.Context, asset string, category monitor.Category, now time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{asset: asset, category: category}
	if last, ok := m.lastSent[k]; ok && !now.After(last) {
		return nil
	}
	m.lastSent[k] = now
	return nil
}

// LastSent returns the recorded time for a pair, if any.
func (m *Memory) LastSent(asset string, category monitor.Category) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[key{asset: asset, category: category}]
	return last, ok
}

func onCooldown(last, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return now.Sub(last) < window
}

var _ Ledger = (*Memory)(nil)
