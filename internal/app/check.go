package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-tier-alerts/internal/monitor"
)

// CheckConfig prints the effective configuration and a rendered sample of
// every tier. Load has already validated it by the time this runs.
func (a *App) CheckConfig() error {
	snap, err := a.Config.Monitor.Snapshot("")
	if err != nil {
		return err
	}

	source := "defaults"
	if a.Config.Path != "" {
		source = a.Config.Path
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "config\t%s\n", source)
	fmt.Fprintf(w, "source\t%s\n", a.Config.Source.Provider)
	fmt.Fprintf(w, "sink\t%s\n", a.Config.Sink.Provider)
	fmt.Fprintf(w, "state\t%s\n", a.Config.State.Backend)
	fmt.Fprintf(w, "database\t%s\n", a.Config.Database.Driver)
	for _, line := range snapshotSummary(snap) {
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	sample := monitor.PriceObservation{
		Symbol:     "SAMPLE",
		Price:      decimal.NewFromInt(1),
		ObservedAt: time.Now(),
	}
	for _, tier := range []monitor.AlertTier{monitor.TierBuy, monitor.TierMajorBuy, monitor.TierSell, monitor.TierMajorSell, monitor.TierEmergencyStop} {
		sample.Change24h = thresholdFor(snap.Thresholds, tier)
		fmt.Fprintf(a.Out, "\n[%s]\n%s\n", tier, snap.Templates.Render(tier, sample))
	}

	fmt.Fprintln(a.Out, "\nconfig OK")
	return nil
}

// TestSink sends one message straight to the configured sink.
func (a *App) TestSink(ctx context.Context, text string) error {
	sink, err := a.newSink()
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		text = fmt.Sprintf("✅ pricewatch sink test\n⏰ %s", time.Now().Format(monitor.TimeLayout))
	}

	timeout := a.Config.Sink.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sink.Send(sendCtx, text); err != nil {
		return fmt.Errorf("sink test failed: %w", err)
	}
	fmt.Fprintf(a.Out, "test message delivered via %s\n", a.Config.Sink.Provider)
	return nil
}

func thresholdFor(t monitor.ThresholdConfig, tier monitor.AlertTier) decimal.Decimal {
	switch tier {
	case monitor.TierBuy:
		return t.Buy
	case monitor.TierMajorBuy:
		return t.MajorBuy
	case monitor.TierSell:
		return t.Sell
	case monitor.TierMajorSell:
		return t.MajorSell
	default:
		return t.EmergencyStop
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinAssets(w monitor.Watchlist) string {
	parts := make([]string, 0, len(w))
	for _, asset := range w {
		parts = append(parts, asset.Symbol+"="+asset.SourceID)
	}
	return strings.Join(parts, ", ")
}
