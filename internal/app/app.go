package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-tier-alerts/internal/alerting"
	"price-tier-alerts/internal/config"
	"price-tier-alerts/internal/cooldown"
	"price-tier-alerts/internal/engine"
	"price-tier-alerts/internal/fetcher"
	"price-tier-alerts/internal/metrics"
	"price-tier-alerts/internal/monitor"
	"price-tier-alerts/internal/ratelimit"
	"price-tier-alerts/internal/scheduler"
	"price-tier-alerts/internal/storage"
	"price-tier-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newSource() (fetcher.PriceSource, error) {
	cfg := a.Config.Source
	retry := fetcher.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}

	switch cfg.Provider {
	case "coingecko":
		return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Currency:    cfg.Currency,
			Timeout:     cfg.RequestTimeout,
			UserAgent:   cfg.UserAgent,
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.Concurrency,
			Retry:       retry,
		}, a.Logger), nil
	case "coinpaprika":
		return fetcher.NewCoinPaprika(fetcher.CoinPaprikaOptions{
			APIKey:      cfg.APIKey,
			Currency:    cfg.Currency,
			Timeout:     cfg.RequestTimeout,
			Concurrency: cfg.Concurrency,
			Retry:       retry,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("source.provider %q not supported", cfg.Provider)
	}
}

func (a *App) newSink() (alerting.Sink, error) {
	cfg := a.Config.Sink
	switch cfg.Provider {
	case "wecom":
		return alerting.NewWeComSink(cfg.WebhookURL, cfg.RequestTimeout, a.Logger), nil
	case "telegram":
		tg := cfg.Telegram
		return alerting.NewTelegramSink(tg.BotToken, tg.ChatID, tg.APIBase, cfg.RequestTimeout, a.Logger), nil
	case "log":
		return alerting.NewLogSink(a.Logger), nil
	default:
		return nil, fmt.Errorf("sink.provider %q not supported", cfg.Provider)
	}
}

// openStore returns a nil store and closer when persistence is disabled.
func (a *App) openStore(ctx context.Context) (storage.HistoryStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	return store, closer, nil
}

// openStoreWithRetry keeps trying until the store opens or ctx ends, waiting
// the error backoff between attempts.
func (a *App) openStoreWithRetry(ctx context.Context) (storage.HistoryStore, func(), error) {
	for {
		store, closer, err := a.openStore(ctx)
		if err == nil {
			return store, closer, nil
		}
		a.Logger.Error().Err(err).
			Str("driver", a.Config.Database.Driver).
			Dur("backoff", a.Config.Scheduler.ErrorBackoff).
			Msg("history store unavailable; retrying")

		timer := time.NewTimer(a.Config.Scheduler.ErrorBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// newState builds the cooldown ledger and rate limiter for the configured backend.
func (a *App) newState(ctx context.Context, store storage.HistoryStore) (cooldown.Ledger, ratelimit.Limiter, func(), error) {
	cfg := a.Config.State
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, nil, err
	}
	noop := func() {}

	switch cfg.Backend {
	case "memory":
		return cooldown.NewMemory(), ratelimit.NewDaily(loc), noop, nil
	case "history":
		if store == nil {
			return nil, nil, nil, errors.New("state.backend history requires a database")
		}
		// The daily counter stays in memory; alert history only covers cooldowns.
		return cooldown.NewHistory(store), ratelimit.NewDaily(loc), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		closer := func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close redis client")
			}
		}
		return cooldown.NewRedis(client, cfg.Redis.KeyPrefix, cfg.Retention),
			ratelimit.NewRedis(client, cfg.Redis.KeyPrefix, loc),
			closer, nil
	default:
		return nil, nil, nil, fmt.Errorf("state.backend %q not supported", cfg.Backend)
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher := config.NewWatcher(a.Config.Path, a.Logger)
	defer watcher.Close()
	snap, err := a.Config.Monitor.Snapshot(watcher.Current())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStoreWithRetry(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.driver is none; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledger, limiter, closeState, err := a.newState(ctx, store)
	if err != nil {
		return err
	}
	defer closeState()

	source, err := a.newSource()
	if err != nil {
		return err
	}
	sink, err := a.newSink()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	opts := engine.Options{
		Source:  source,
		Sink:    sink,
		Ledger:  ledger,
		Limiter: limiter,
		Store:   store,
		Watcher: watcher,
		Scheduler: scheduler.New(scheduler.Options{
			ErrorBackoff: a.Config.Scheduler.ErrorBackoff,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger),
		Metrics:      recorder,
		SinkTimeout:  a.Config.Sink.RequestTimeout,
		MessageDelay: a.Config.Scheduler.MessageDelay,
	}
	eng, err := engine.New(snap, opts, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr := a.Config.Metrics.Listen; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, reg, a.Logger)
		})
	}
	g.Go(func() error {
		return eng.Run(gctx)
	})

	a.Logger.Info().
		Str("version", version.String()).
		Str("source", a.Config.Source.Provider).
		Str("sink", a.Config.Sink.Provider).
		Str("state", a.Config.State.Backend).
		Str("database", a.Config.Database.Driver).
		Msg("starting monitoring service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Kind   string
	Symbol string
	Limit  int
}

// SimulateOptions describe the observation fed through simulate-alert.
type SimulateOptions struct {
	Symbol    string
	Price     float64
	Change    float64
	Volume    *float64
	MarketCap *float64
}

// PruneOptions configure alert history cleanup.
type PruneOptions struct {
	Before time.Time
	DryRun bool
}

func snapshotSummary(s *monitor.Snapshot) []string {
	return []string{
		fmt.Sprintf("revision\t%s", orDash(s.Revision)),
		fmt.Sprintf("watchlist\t%s", orDash(joinAssets(s.Watchlist))),
		fmt.Sprintf("thresholds\tbuy %s%%  major_buy %s%%  sell %s%%  major_sell %s%%  emergency %s%%",
			s.Thresholds.Buy, s.Thresholds.MajorBuy, s.Thresholds.Sell, s.Thresholds.MajorSell, s.Thresholds.EmergencyStop),
		fmt.Sprintf("poll_interval\t%s", s.PollInterval),
		fmt.Sprintf("cooldown\t%s (emergency %s)", s.Cooldown, s.EmergencyCooldown),
		fmt.Sprintf("daily_cap\t%d", s.DailyCap),
		fmt.Sprintf("anomaly_threshold\t%s%%", s.AnomalyThresholdPct),
		fmt.Sprintf("startup_notification\t%t", s.StartupNotification),
		fmt.Sprintf("record_all_observations\t%t", s.RecordAllObservations),
	}
}
