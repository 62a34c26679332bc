package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"price-tier-alerts/internal/engine"
	"price-tier-alerts/internal/fetcher"
	"price-tier-alerts/internal/monitor"
)

// SimulateAlert pushes one synthetic observation through a full cycle using
// the configured sink, state backend and history store.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (engine.CycleReport, error) {
	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if symbol == "" {
		return engine.CycleReport{}, errors.New("symbol is required")
	}

	obs, err := monitor.NewObservation(symbol, opts.Price, opts.Change, opts.Volume, opts.MarketCap, time.Now())
	if err != nil {
		return engine.CycleReport{}, err
	}

	snap, err := a.Config.Monitor.Snapshot("simulated")
	if err != nil {
		return engine.CycleReport{}, err
	}
	asset := monitor.Asset{Symbol: symbol, SourceID: "simulated"}
	for _, configured := range snap.Watchlist {
		if configured.Symbol == symbol {
			asset = configured
			break
		}
	}
	snap.Watchlist = monitor.Watchlist{asset}
	snap.StartupNotification = false

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return engine.CycleReport{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledger, limiter, closeState, err := a.newState(ctx, store)
	if err != nil {
		return engine.CycleReport{}, err
	}
	defer closeState()

	sink, err := a.newSink()
	if err != nil {
		return engine.CycleReport{}, err
	}

	eng, err := engine.New(snap, engine.Options{
		Source:      fetcher.Static{symbol: obs},
		Sink:        sink,
		Ledger:      ledger,
		Limiter:     limiter,
		Store:       store,
		SinkTimeout: a.Config.Sink.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return engine.CycleReport{}, err
	}

	report, err := eng.RunCycle(ctx)
	if err != nil {
		return report, err
	}

	tier := monitor.Classify(obs.Change24h, snap.Thresholds)
	fmt.Fprintf(a.Out, "symbol: %s  price: %s  change: %s%%  tier: %s\n", symbol, obs.Price, obs.Change24h.StringFixed(2), tier)
	switch {
	case len(report.Sent) > 0:
		fmt.Fprintf(a.Out, "alert delivered via %s\n", a.Config.Sink.Provider)
	case report.Failed > 0:
		fmt.Fprintln(a.Out, "alert delivery failed")
	case tier == monitor.TierNone:
		fmt.Fprintln(a.Out, "no alert: change inside thresholds")
	default:
		for reason, n := range report.Suppressed {
			fmt.Fprintf(a.Out, "suppressed: %s (%d)\n", reason, n)
		}
	}
	return report, nil
}
