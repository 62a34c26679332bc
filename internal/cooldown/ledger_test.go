package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tier-alerts/internal/monitor"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// exerciseLedger runs the shared cooldown semantics against any implementation.
func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	window := time.Hour

	on, err := l.IsOnCooldown(ctx, "RAY", monitor.CategoryDirectional, t0, window)
	require.NoError(t, err)
	assert.False(t, on, "fresh ledger has no cooldown")

	require.NoError(t, l.RecordSent(ctx, "RAY", monitor.CategoryDirectional, t0, window))

	on, err = l.IsOnCooldown(ctx, "RAY", monitor.CategoryDirectional, t0.Add(30*time.Minute), window)
	require.NoError(t, err)
	assert.True(t, on, "directional still cooling down at t+1800s")

	on, err = l.IsOnCooldown(ctx, "RAY", monitor.CategoryEmergency, t0.Add(30*time.Minute), window)
	require.NoError(t, err)
	assert.False(t, on, "emergency category is independent")

	on, err = l.IsOnCooldown(ctx, "CRV", monitor.CategoryDirectional, t0.Add(time.Minute), window)
	require.NoError(t, err)
	assert.False(t, on, "other assets are unaffected")

	on, err = l.IsOnCooldown(ctx, "RAY", monitor.CategoryDirectional, t0.Add(window), window)
	require.NoError(t, err)
	assert.False(t, on, "window elapsed")

	// An older timestamp never moves the entry backwards.
	require.NoError(t, l.RecordSent(ctx, "RAY", monitor.CategoryDirectional, t0.Add(-2*time.Hour), window))
	on, err = l.IsOnCooldown(ctx, "RAY", monitor.CategoryDirectional, t0.Add(59*time.Minute), window)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = l.IsOnCooldown(ctx, "RAY", monitor.CategoryDirectional, t0.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.False(t, on, "zero window disables the cooldown")
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemory()
	exerciseLedger(t, l)

	last, ok := l.LastSent("RAY", monitor.CategoryDirectional)
	require.True(t, ok)
	assert.Equal(t, t0, last)
}

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedis(client, "test", time.Hour*24)
	exerciseLedger(t, l)

	assert.True(t, mr.Exists("test:cooldown:RAY:directional"))
	assert.False(t, mr.Exists("test:cooldown:RAY:emergency"))
}

func TestRedisLedgerOutlivesShortRetention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	l := NewRedis(client, "test", 30*time.Minute)
	require.NoError(t, l.RecordSent(ctx, "RAY", monitor.CategoryDirectional, t0, time.Hour))

	mr.FastForward(40 * time.Minute)
	on, err := l.IsOnCooldown(ctx, "RAY", monitor.CategoryDirectional, t0.Add(40*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, on, "entry kept for the whole cooldown window")

	mr.FastForward(25 * time.Minute)
	assert.False(t, mr.Exists("test:cooldown:RAY:directional"))
}

type fakeHistory struct {
	records []monitor.AlertRecord
	calls   int
}

func (f *fakeHistory) AlertsSince(_ context.Context, symbol string, tiers []monitor.AlertTier, since time.Time) ([]monitor.AlertRecord, error) {
	f.calls++
	allowed := make(map[monitor.AlertTier]bool, len(tiers))
	for _, tier := range tiers {
		allowed[tier] = true
	}
	var out []monitor.AlertRecord
	for _, rec := range f.records {
		if rec.Symbol == symbol && allowed[rec.Tier] && rec.SentAt.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestHistoryLedgerUsesPersistedAlerts(t *testing.T) {
	ctx := context.Background()
	store := &fakeHistory{records: []monitor.AlertRecord{
		{Symbol: "CAKE", Tier: monitor.TierSell, SentAt: t0},
		{Symbol: "CAKE", Tier: monitor.TierEmergencyStop, SentAt: t0},
	}}
	l := NewHistory(store)

	on, err := l.IsOnCooldown(ctx, "CAKE", monitor.CategoryDirectional, t0.Add(10*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, on, "a sell sent before restart still cools down buys")

	on, err = l.IsOnCooldown(ctx, "CAKE", monitor.CategoryDirectional, t0.Add(61*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, on)

	exerciseLedger(t, NewHistory(&fakeHistory{}))
}
