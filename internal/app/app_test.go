package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tier-alerts/internal/config"
	"price-tier-alerts/internal/monitor"
	"price-tier-alerts/internal/storage"
)

const testConfigYAML = `
database:
  driver: sqlite
  path: %s
sink:
  provider: log
state:
  backend: history
monitor:
  watchlist:
    - symbol: RAY
      id: raydium
    - symbol: CRV
      id: curve-dao-token
  poll_interval: 1m
  cooldown: 1h
  daily_cap: 5
`

func newTestApp(t *testing.T) (*App, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(testConfigYAML, dbPath)), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out, dbPath
}

func seedObservations(t *testing.T, dbPath string, base time.Time, n int) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < n; i++ {
		obs, err := monitor.NewObservation("RAY", 1+float64(i)/10, float64(i)-5, nil, nil, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, store.AppendObservation(ctx, obs))
	}
}

func TestCheckConfig(t *testing.T) {
	a, out, _ := newTestApp(t)

	require.NoError(t, a.CheckConfig())
	text := out.String()
	assert.Contains(t, text, "RAY=raydium, CRV=curve-dao-token")
	assert.Contains(t, text, "[emergency_stop]")
	assert.Contains(t, text, "SAMPLE")
	assert.Contains(t, text, "config OK")
}

func TestTestSinkLog(t *testing.T) {
	a, out, _ := newTestApp(t)

	require.NoError(t, a.TestSink(context.Background(), ""))
	assert.Contains(t, out.String(), "delivered via log")
}

func TestSimulateAlertRecordsHistory(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()

	report, err := a.SimulateAlert(ctx, SimulateOptions{Symbol: "ray", Price: 0.9, Change: -16})
	require.NoError(t, err)
	require.Len(t, report.Sent, 1)
	assert.Equal(t, monitor.TierMajorBuy, report.Sent[0].Tier)
	assert.Contains(t, out.String(), "alert delivered via log")

	// History-backed cooldown suppresses the same category on a second run.
	out.Reset()
	report, err = a.SimulateAlert(ctx, SimulateOptions{Symbol: "RAY", Price: 0.95, Change: -6})
	require.NoError(t, err)
	assert.Empty(t, report.Sent)
	assert.Equal(t, 1, report.Suppressed["cooldown"])
	assert.Contains(t, out.String(), "suppressed: cooldown")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Kind: "alerts", Symbol: "RAY", Limit: 10}))
	assert.Contains(t, out.String(), "major_buy")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Kind: "prices", Limit: 10}))
	assert.Contains(t, out.String(), "RAY")
}

func TestSimulateAlertInsideThresholds(t *testing.T) {
	a, out, _ := newTestApp(t)

	report, err := a.SimulateAlert(context.Background(), SimulateOptions{Symbol: "NEW", Price: 2, Change: 1})
	require.NoError(t, err)
	assert.Empty(t, report.Sent)
	assert.Contains(t, out.String(), "no alert")
}

func TestShowRejectsUnknownKind(t *testing.T) {
	a, _, _ := newTestApp(t)
	err := a.Show(context.Background(), ShowOptions{Kind: "trades"})
	assert.Error(t, err)
}

func TestExportCSV(t *testing.T) {
	a, _, dbPath := newTestApp(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	seedObservations(t, dbPath, base, 10)

	csvPath := filepath.Join(t.TempDir(), "out", "ray.csv")
	from := base.Add(-time.Minute)
	to := base.Add(time.Hour)
	require.NoError(t, a.Export(context.Background(), ExportOptions{
		Symbol:    "RAY",
		From:      &from,
		To:        &to,
		CSVPath:   csvPath,
		MaxPoints: 4,
	}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "observed_at", records[0][0])
	assert.Equal(t, base.Format(time.RFC3339), records[1][0])
	assert.Equal(t, base.Add(9*time.Minute).Format(time.RFC3339), records[4][0])
}

func TestExportValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	assert.Error(t, a.Export(ctx, ExportOptions{}))
	assert.Error(t, a.Export(ctx, ExportOptions{PNGPath: "x.png"}))
}

func TestDownsample(t *testing.T) {
	obs := make([]monitor.PriceObservation, 7)
	for i := range obs {
		obs[i].Symbol = string(rune('A' + i))
	}

	got := downsample(obs, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Symbol)
	assert.Equal(t, "D", got[1].Symbol)
	assert.Equal(t, "G", got[2].Symbol)

	assert.Len(t, downsample(obs, 0), 7)
	assert.Equal(t, "G", downsample(obs, 1)[0].Symbol)
}

func TestPrune(t *testing.T) {
	a, out, dbPath := newTestApp(t)
	ctx := context.Background()

	store, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	for _, at := range []time.Time{old, old.Add(time.Hour), time.Now()} {
		_, err := store.AppendAlert(ctx, monitor.AlertRecord{Symbol: "RAY", Tier: monitor.TierBuy, Message: "m", SentAt: at})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	cutoff := time.Now().Add(-24 * time.Hour)
	n, err := a.Prune(ctx, PruneOptions{Before: cutoff, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, out.String(), "would delete 2")

	n, err = a.Prune(ctx, PruneOptions{Before: cutoff})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = a.Prune(ctx, PruneOptions{Before: cutoff, DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = a.Prune(ctx, PruneOptions{})
	assert.Error(t, err)
}

func TestExportWindowDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	from, to, err := exportWindow(ExportOptions{}, 10, 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-50*time.Minute), from)

	early := now.Add(time.Hour)
	_, _, err = exportWindow(ExportOptions{From: &early}, 10, time.Minute, now)
	assert.Error(t, err)
}
