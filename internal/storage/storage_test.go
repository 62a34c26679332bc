package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tier-alerts/internal/config"
	"price-tier-alerts/internal/monitor"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func observation(t *testing.T, symbol string, price, change float64, at time.Time) monitor.PriceObservation {
	t.Helper()
	volume := 1234.5
	obs, err := monitor.NewObservation(symbol, price, change, &volume, nil, at)
	require.NoError(t, err)
	return obs
}

func TestSQLiteObservations(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.AppendObservation(ctx, observation(t, "RAY", 1.5, -6.2, base)))
	require.NoError(t, store.AppendObservation(ctx, observation(t, "RAY", 1.4, -8, base.Add(5*time.Minute))))
	require.NoError(t, store.AppendObservation(ctx, observation(t, "CRV", 0.4, 2, base.Add(5*time.Minute))))

	recent, err := store.ListRecentObservations(ctx, "RAY", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Price.Equal(decimal.NewFromFloat(1.4)))
	assert.Equal(t, base.Add(5*time.Minute).UnixMilli(), recent[0].ObservedAt.UnixMilli())
	require.NotNil(t, recent[0].Volume24h)
	assert.True(t, recent[0].Volume24h.Equal(decimal.NewFromFloat(1234.5)))
	assert.Nil(t, recent[0].MarketCap)

	all, err := store.ListRecentObservations(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	between, err := store.ListObservationsBetween(ctx, "RAY", base, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.True(t, between[0].Change24h.Equal(decimal.NewFromFloat(-6.2)))
}

func TestSQLiteAlerts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := func(symbol string, tier monitor.AlertTier, at time.Time) monitor.AlertRecord {
		return monitor.AlertRecord{
			Symbol:    symbol,
			Tier:      tier,
			Message:   string(tier) + " " + symbol,
			Price:     decimal.NewFromFloat(1.5),
			Change24h: decimal.NewFromFloat(-6.2),
			SentAt:    at,
		}
	}

	first, err := store.AppendAlert(ctx, rec("RAY", monitor.TierBuy, base))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	_, err = store.AppendAlert(ctx, rec("RAY", monitor.TierEmergencyStop, base.Add(10*time.Minute)))
	require.NoError(t, err)
	_, err = store.AppendAlert(ctx, rec("CRV", monitor.TierSell, base.Add(20*time.Minute)))
	require.NoError(t, err)

	directional, err := store.AlertsSince(ctx, "RAY", monitor.CategoryDirectional.Tiers(), base)
	require.NoError(t, err)
	require.Len(t, directional, 1)
	assert.Equal(t, monitor.TierBuy, directional[0].Tier)
	assert.Equal(t, first.ID, directional[0].ID)

	none, err := store.AlertsSince(ctx, "RAY", monitor.CategoryDirectional.Tiers(), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := store.ListRecentAlerts(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "CRV", recent[0].Symbol)
	assert.Equal(t, monitor.TierEmergencyStop, recent[1].Tier)

	pending, err := store.CountAlertsBefore(ctx, base.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	deleted, err := store.DeleteAlertsBefore(ctx, base.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := store.ListRecentAlerts(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.AppendObservation(ctx, observation(t, "CAKE", 2.2, 1, base)))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.ListRecentObservations(ctx, "CAKE", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.DatabaseConfig{Driver: "none"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = Open(ctx, config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(ctx, config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)

	store, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestNilStoreNotConfigured(t *testing.T) {
	var s *SQLite
	assert.ErrorIs(t, s.AppendObservation(context.Background(), monitor.PriceObservation{}), ErrNotConfigured)
	var p *Postgres
	_, err := p.ListRecentAlerts(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
