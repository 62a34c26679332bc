package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-tier-alerts/internal/monitor"
)

// CycleReport summarises one cycle.
type CycleReport struct {
	CycleID     string
	Revision    string
	Reloaded    bool
	Observed    int
	Skipped     int
	Anomalies   int
	Sent        []monitor.AlertRecord
	Failed      int
	Suppressed  map[string]int
	Interrupted bool
}

const (
	reasonCooldown  = "cooldown"
	reasonRateLimit = "rate_limit"
	reasonError     = "gate_error"
)

type cycle struct {
	ctx context.Context
	// detached carries values but not cancellation; network calls use it so a
	// shutdown never cuts a send or a record write in half.
	detached   context.Context
	logger     zerolog.Logger
	snap       *monitor.Snapshot
	report     *CycleReport
	dispatched int
	capReached bool
}

// RunCycle executes one full pass over the watchlist. It returns an error only
// for cycle-level failures; per-asset problems are logged and counted.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	started := time.Now()
	report := CycleReport{
		CycleID:    uuid.NewString(),
		Suppressed: map[string]int{},
	}
	logger := e.logger.With().Str("cycle_id", report.CycleID).Logger()
	defer func() { e.opts.Metrics.CycleDuration.Observe(time.Since(started).Seconds()) }()

	report.Reloaded = e.applyConfig(ctx, logger)

	// One snapshot for the whole cycle.
	snap := e.snapshot.Load()
	report.Revision = snap.Revision

	c := &cycle{
		ctx:      ctx,
		detached: context.WithoutCancel(ctx),
		logger:   logger,
		snap:     snap,
		report:   &report,
	}

	observations, err := e.opts.Source.FetchAll(c.detached, snap.Watchlist)
	if err != nil {
		e.opts.Metrics.Cycles.WithLabelValues("source_unavailable").Inc()
		logger.Error().Err(err).Strs("watchlist", snap.Watchlist.Symbols()).Msg("price fetch failed; cycle skipped")
		return report, fmt.Errorf("fetch prices: %w", err)
	}

	for _, asset := range snap.Watchlist {
		obs, ok := observations[asset.Symbol]
		if !ok {
			report.Skipped++
			logger.Warn().Str("symbol", asset.Symbol).Str("source_id", asset.SourceID).Msg("no observation for asset")
			continue
		}
		e.processAsset(c, obs)
		if report.Interrupted {
			break
		}
	}

	outcome := "ok"
	if report.Interrupted {
		outcome = "interrupted"
	}
	e.opts.Metrics.Cycles.WithLabelValues(outcome).Inc()

	logger.Info().
		Str("revision", report.Revision).
		Int("observed", report.Observed).
		Int("skipped", report.Skipped).
		Int("sent", len(report.Sent)).
		Int("failed", report.Failed).
		Interface("suppressed", report.Suppressed).
		Dur("elapsed", time.Since(started)).
		Msg("cycle complete")
	return report, nil
}

// applyConfig swaps in a changed snapshot and announces watchlist changes.
func (e *Engine) applyConfig(ctx context.Context, logger zerolog.Logger) bool {
	if e.opts.Watcher == nil {
		return false
	}

	next, err := e.opts.Watcher.Poll()
	if err != nil {
		e.opts.Metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		logger.Error().Err(err).Str("revision", e.snapshot.Load().Revision).Msg("config reload rejected; keeping previous config")
		return false
	}
	if next == nil {
		return false
	}

	prev := e.snapshot.Swap(next)
	e.opts.Metrics.ConfigReloads.WithLabelValues("applied").Inc()
	logger.Info().
		Str("previous_revision", prev.Revision).
		Str("revision", next.Revision).
		Strs("watchlist", next.Watchlist.Symbols()).
		Msg("config reloaded")

	if diff := monitor.Diff(prev.Watchlist, next.Watchlist); !diff.Empty() {
		logger.Info().Strs("added", diff.Added).Strs("removed", diff.Removed).Msg("watchlist changed")
		e.sendStatus(ctx, logger, next, "watchlist_change", monitor.WatchlistChangeMessage(diff, next.Watchlist))
	}
	return true
}

func (e *Engine) processAsset(c *cycle, obs monitor.PriceObservation) {
	logger := c.logger.With().Str("symbol", obs.Symbol).Logger()
	c.report.Observed++
	e.opts.Metrics.Observations.Inc()

	if threshold := c.snap.AnomalyThresholdPct; threshold.IsPositive() && obs.Change24h.Abs().GreaterThan(threshold) {
		c.report.Anomalies++
		e.opts.Metrics.Anomalies.Inc()
		logger.Warn().
			Str("change_24h", obs.Change24h.String()).
			Str("anomaly_threshold_pct", threshold.String()).
			Msg("abnormal 24h change")
	}

	tier := monitor.Classify(obs.Change24h, c.snap.Thresholds)
	logger.Debug().
		Str("price", obs.Price.String()).
		Str("change_24h", obs.Change24h.StringFixed(2)).
		Str("tier", string(tier)).
		Msg("classified")

	delivered := false
	if tier != monitor.TierNone && e.gate(c, logger, obs.Symbol, tier) {
		delivered = e.dispatch(c, logger, tier, obs)
	}

	if e.opts.Store != nil && (delivered || c.snap.RecordAllObservations) {
		if err := e.opts.Store.AppendObservation(c.detached, obs); err != nil {
			logger.Error().Err(err).Msg("failed to record observation")
		}
	}
}

// gate checks the daily cap first and the cooldown second. Once the cap is hit
// every remaining asset in the cycle is suppressed without another check.
func (e *Engine) gate(c *cycle, logger zerolog.Logger, symbol string, tier monitor.AlertTier) bool {
	if c.capReached {
		e.suppress(c, reasonRateLimit)
		return false
	}

	now := e.opts.Clock()
	allowed, err := e.opts.Limiter.Allow(c.detached, now, c.snap.DailyCap)
	if err != nil {
		e.suppress(c, reasonError)
		logger.Warn().Err(err).Msg("rate limiter unavailable; alert held")
		return false
	}
	if !allowed {
		c.capReached = true
		e.suppress(c, reasonRateLimit)
		logger.Info().Err(monitor.ErrRateExceeded).Int("daily_cap", c.snap.DailyCap).Str("tier", string(tier)).Msg("daily cap reached; skipping remaining alerts this cycle")
		return false
	}

	category := tier.Category()
	onCooldown, err := e.opts.Ledger.IsOnCooldown(c.detached, symbol, category, now, e.window(c.snap, category))
	if err != nil {
		e.suppress(c, reasonError)
		logger.Warn().Err(err).Msg("cooldown ledger unavailable; alert held")
		return false
	}
	if onCooldown {
		e.suppress(c, reasonCooldown)
		logger.Debug().Str("tier", string(tier)).Str("category", string(category)).Msg("alert on cooldown")
		return false
	}
	return true
}

func (e *Engine) window(snap *monitor.Snapshot, category monitor.Category) time.Duration {
	if category == monitor.CategoryEmergency {
		return snap.EmergencyCooldown
	}
	return snap.Cooldown
}

func (e *Engine) suppress(c *cycle, reason string) {
	c.report.Suppressed[reason]++
	e.opts.Metrics.Suppressed.WithLabelValues(reason).Inc()
}

// dispatch renders and sends one alert. Only a confirmed delivery advances the
// cooldown ledger, takes a daily slot and writes history.
func (e *Engine) dispatch(c *cycle, logger zerolog.Logger, tier monitor.AlertTier, obs monitor.PriceObservation) bool {
	if c.dispatched > 0 && !e.pause(c) {
		return false
	}
	c.dispatched++

	text := c.snap.Templates.Render(tier, obs)
	if err := e.deliver(c.detached, text); err != nil {
		c.report.Failed++
		e.opts.Metrics.SinkFailures.Inc()
		logger.Warn().Err(err).Str("tier", string(tier)).Msg("alert not delivered; will re-evaluate next cycle")
		return false
	}

	sentAt := e.opts.Clock()
	category := tier.Category()
	if err := e.opts.Ledger.RecordSent(c.detached, obs.Symbol, category, sentAt, e.window(c.snap, category)); err != nil {
		logger.Error().Err(err).Str("category", string(category)).Msg("failed to record cooldown")
	}
	e.consume(c.detached, logger, sentAt, c.snap.DailyCap)

	rec := monitor.AlertRecord{
		Symbol:    obs.Symbol,
		Tier:      tier,
		Message:   text,
		Price:     obs.Price,
		Change24h: obs.Change24h,
		SentAt:    sentAt,
	}
	if e.opts.Store != nil {
		stored, err := e.opts.Store.AppendAlert(c.detached, rec)
		if err != nil {
			logger.Error().Err(err).Str("tier", string(tier)).Msg("alert sent but not recorded")
		} else {
			rec = stored
		}
	}

	c.report.Sent = append(c.report.Sent, rec)
	e.opts.Metrics.AlertsSent.WithLabelValues(string(tier)).Inc()
	logger.Info().
		Str("tier", string(tier)).
		Str("price", obs.Price.String()).
		Str("change_24h", obs.Change24h.StringFixed(2)).
		Msg("alert sent")
	return true
}

// pause waits the inter-message delay. It reports false when shutdown was
// requested, which ends the cycle before the next send.
func (e *Engine) pause(c *cycle) bool {
	if err := c.ctx.Err(); err != nil {
		c.report.Interrupted = true
		return false
	}
	if e.opts.MessageDelay <= 0 {
		return true
	}

	timer := time.NewTimer(e.opts.MessageDelay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		c.report.Interrupted = true
		c.logger.Info().Msg("shutdown requested; remaining alerts abandoned")
		return false
	case <-timer.C:
		return true
	}
}
