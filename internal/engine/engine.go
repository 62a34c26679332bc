package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"price-tier-alerts/internal/alerting"
	"price-tier-alerts/internal/cooldown"
	"price-tier-alerts/internal/fetcher"
	"price-tier-alerts/internal/metrics"
	"price-tier-alerts/internal/monitor"
	"price-tier-alerts/internal/ratelimit"
	"price-tier-alerts/internal/scheduler"
	"price-tier-alerts/internal/storage"
)

// ConfigSource yields a new snapshot when the configuration changed, nil otherwise.
type ConfigSource interface {
	Poll() (*monitor.Snapshot, error)
}

// Options wire the engine's collaborators. Store, Watcher, Scheduler and
// Metrics are optional.
type Options struct {
	Source    fetcher.PriceSource
	Sink      alerting.Sink
	Ledger    cooldown.Ledger
	Limiter   ratelimit.Limiter
	Store     storage.HistoryStore
	Watcher   ConfigSource
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Recorder

	// SinkTimeout bounds a single Send. Zero means the sink's own client timeout.
	SinkTimeout time.Duration
	// MessageDelay separates successive dispatches within one cycle.
	MessageDelay time.Duration
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Engine runs the fetch, classify, gate, dispatch and record cycle.
type Engine struct {
	opts     Options
	snapshot atomic.Pointer[monitor.Snapshot]
	logger   zerolog.Logger
}

// New constructs an engine starting from initial.
func New(initial *monitor.Snapshot, opts Options, logger zerolog.Logger) (*Engine, error) {
	if initial == nil {
		return nil, fmt.Errorf("%w: initial snapshot is required", monitor.ErrConfigInvalid)
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	switch {
	case opts.Source == nil:
		return nil, errors.New("engine: price source not configured")
	case opts.Sink == nil:
		return nil, errors.New("engine: sink not configured")
	case opts.Ledger == nil:
		return nil, errors.New("engine: cooldown ledger not configured")
	case opts.Limiter == nil:
		return nil, errors.New("engine: rate limiter not configured")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		opts:   opts,
		logger: logger.With().Str("component", "engine").Logger(),
	}
	e.snapshot.Store(initial)
	return e, nil
}

// Snapshot returns the configuration the next cycle will start from.
func (e *Engine) Snapshot() *monitor.Snapshot {
	return e.snapshot.Load()
}

// Start sends the startup notification when enabled.
func (e *Engine) Start(ctx context.Context) {
	snap := e.snapshot.Load()
	e.logger.Info().
		Strs("watchlist", snap.Watchlist.Symbols()).
		Dur("poll_interval", snap.PollInterval).
		Dur("cooldown", snap.Cooldown).
		Int("daily_cap", snap.DailyCap).
		Str("revision", snap.Revision).
		Msg("engine starting")

	if !snap.StartupNotification {
		return
	}
	e.sendStatus(ctx, e.logger, snap, "startup", monitor.StartupMessage(snap, e.opts.Clock()))
}

// Run sends the startup notification and then drives cycles on the scheduler
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.opts.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	e.Start(ctx)
	return e.opts.Scheduler.Run(ctx,
		func(ctx context.Context) error {
			_, err := e.RunCycle(ctx)
			return err
		},
		func() time.Duration { return e.snapshot.Load().PollInterval },
	)
}

// sendStatus delivers an informational message. It takes a rate limiter slot
// but no cooldown.
func (e *Engine) sendStatus(ctx context.Context, logger zerolog.Logger, snap *monitor.Snapshot, kind, text string) bool {
	detached := context.WithoutCancel(ctx)
	now := e.opts.Clock()

	allowed, err := e.opts.Limiter.Allow(detached, now, snap.DailyCap)
	if err != nil {
		logger.Warn().Err(err).Str("kind", kind).Msg("rate limiter unavailable; status message skipped")
		return false
	}
	if !allowed {
		e.opts.Metrics.Suppressed.WithLabelValues("rate_limit").Inc()
		logger.Info().Str("kind", kind).Int("daily_cap", snap.DailyCap).Msg("daily cap reached; status message skipped")
		return false
	}

	if err := e.deliver(detached, text); err != nil {
		e.opts.Metrics.SinkFailures.Inc()
		logger.Warn().Err(err).Str("kind", kind).Msg("status message not delivered")
		return false
	}
	e.consume(detached, logger, now, snap.DailyCap)
	logger.Info().Str("kind", kind).Msg("status message sent")
	return true
}

func (e *Engine) deliver(ctx context.Context, text string) error {
	if e.opts.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SinkTimeout)
		defer cancel()
	}
	return e.opts.Sink.Send(ctx, text)
}

func (e *Engine) consume(ctx context.Context, logger zerolog.Logger, now time.Time, limit int) {
	ok, err := e.opts.Limiter.TryConsume(ctx, now, limit)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to count notification against daily cap")
		return
	}
	if !ok {
		// Another writer took the last slot between the check and the send.
		logger.Warn().Int("daily_cap", limit).Msg("daily cap filled while sending")
	}
	if count, err := e.opts.Limiter.Count(ctx, now); err == nil {
		e.opts.Metrics.DailySent.Set(float64(count))
	}
}
