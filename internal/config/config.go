package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"price-tier-alerts/internal/logging"
	"price-tier-alerts/internal/monitor"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Sink      SinkConfig      `mapstructure:"sink"`
	State     StateConfig     `mapstructure:"state"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Export    ExportConfig    `mapstructure:"export"`

	// Path is the config file actually read, empty when running on defaults.
	Path string `mapstructure:"-"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the history store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs loop pacing outside the reloadable poll interval.
type SchedulerConfig struct {
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	MessageDelay time.Duration `mapstructure:"message_delay"`
}

// SourceConfig covers the price API.
type SourceConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Currency       string        `mapstructure:"currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SinkConfig defines the outbound notification channel.
type SinkConfig struct {
	Provider       string         `mapstructure:"provider"`
	WebhookURL     string         `mapstructure:"webhook_url"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot sink.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// StateConfig chooses where cooldowns and the daily counter live.
type StateConfig struct {
	Backend   string        `mapstructure:"backend"`
	Timezone  string        `mapstructure:"timezone"`
	Retention time.Duration `mapstructure:"retention"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

// RedisConfig covers redis connectivity for the redis state backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MetricsConfig sets the prometheus listener. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// MonitorConfig is the hot-reloadable part of the configuration.
type MonitorConfig struct {
	Watchlist             []WatchlistEntry  `mapstructure:"watchlist"`
	Thresholds            ThresholdsConfig  `mapstructure:"thresholds"`
	PollInterval          time.Duration     `mapstructure:"poll_interval"`
	Cooldown              time.Duration     `mapstructure:"cooldown"`
	EmergencyCooldown     time.Duration     `mapstructure:"emergency_cooldown"`
	DailyCap              int               `mapstructure:"daily_cap"`
	AnomalyThresholdPct   float64           `mapstructure:"anomaly_threshold_pct"`
	StartupNotification   bool              `mapstructure:"startup_notification"`
	RecordAllObservations bool              `mapstructure:"record_all_observations"`
	Templates             map[string]string `mapstructure:"templates"`
}

// WatchlistEntry maps a symbol to its price source id.
type WatchlistEntry struct {
	Symbol string `mapstructure:"symbol"`
	ID     string `mapstructure:"id"`
}

// ThresholdsConfig holds tier boundaries in percent.
type ThresholdsConfig struct {
	Buy           float64 `mapstructure:"buy"`
	MajorBuy      float64 `mapstructure:"major_buy"`
	Sell          float64 `mapstructure:"sell"`
	MajorSell     float64 `mapstructure:"major_sell"`
	EmergencyStop float64 `mapstructure:"emergency_stop"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Path = v.ConfigFileUsed()
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "pricewatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.error_backoff", "60s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.message_delay", "1s")

	v.SetDefault("source.provider", "coingecko")
	v.SetDefault("source.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("source.currency", "usd")
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.retry_attempts", 3)
	v.SetDefault("source.retry_delay", "5s")
	v.SetDefault("source.batch_size", 50)
	v.SetDefault("source.concurrency", 2)
	v.SetDefault("source.user_agent", "pricewatch/1.0")

	v.SetDefault("sink.provider", "log")
	v.SetDefault("sink.request_timeout", "10s")
	v.SetDefault("sink.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("state.backend", "memory")
	v.SetDefault("state.timezone", "Local")
	v.SetDefault("state.retention", "168h")
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.key_prefix", "pricewatch")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("monitor.watchlist", []map[string]any{
		{"symbol": "RAY", "id": "raydium"},
		{"symbol": "CRV", "id": "curve-dao-token"},
		{"symbol": "PENDLE", "id": "pendle"},
		{"symbol": "CAKE", "id": "pancakeswap-token"},
	})
	v.SetDefault("monitor.thresholds.buy", -5.0)
	v.SetDefault("monitor.thresholds.major_buy", -15.0)
	v.SetDefault("monitor.thresholds.sell", 8.0)
	v.SetDefault("monitor.thresholds.major_sell", 20.0)
	v.SetDefault("monitor.thresholds.emergency_stop", -30.0)
	v.SetDefault("monitor.poll_interval", "5m")
	v.SetDefault("monitor.cooldown", "1h")
	v.SetDefault("monitor.emergency_cooldown", "0s")
	v.SetDefault("monitor.daily_cap", 20)
	v.SetDefault("monitor.anomaly_threshold_pct", 50.0)
	v.SetDefault("monitor.startup_notification", true)
	v.SetDefault("monitor.record_all_observations", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.ErrorBackoff <= 0 {
		return fmt.Errorf("scheduler.error_backoff must be greater than zero")
	}
	if c.Scheduler.MessageDelay < 0 {
		return fmt.Errorf("scheduler.message_delay cannot be negative")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "none", "":
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}

	switch c.Source.Provider {
	case "coingecko", "coinpaprika":
	default:
		return fmt.Errorf("source.provider %q not supported", c.Source.Provider)
	}
	if c.Source.RetryAttempts <= 0 {
		return fmt.Errorf("source.retry_attempts must be greater than zero")
	}

	switch c.Sink.Provider {
	case "wecom":
		if c.Sink.WebhookURL == "" {
			return fmt.Errorf("sink.webhook_url is required for the wecom sink")
		}
	case "telegram":
		if c.Sink.Telegram.BotToken == "" || c.Sink.Telegram.ChatID == "" {
			return fmt.Errorf("sink.telegram.bot_token and sink.telegram.chat_id are required")
		}
	case "log":
	default:
		return fmt.Errorf("sink.provider %q not supported", c.Sink.Provider)
	}

	switch c.State.Backend {
	case "memory", "history":
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend %q not supported", c.State.Backend)
	}
	if c.State.Backend == "redis" {
		if longest := max(c.Monitor.Cooldown, c.Monitor.EmergencyCooldown); c.State.Retention < longest {
			return fmt.Errorf("state.retention %s is shorter than the longest cooldown %s", c.State.Retention, longest)
		}
	}
	if c.State.Backend == "history" && (c.Database.Driver == "none" || c.Database.Driver == "") {
		return fmt.Errorf("state.backend history requires a database")
	}
	if _, err := c.State.Location(); err != nil {
		return err
	}

	if _, err := c.Monitor.Snapshot(""); err != nil {
		return err
	}
	return nil
}

// Location resolves the timezone used for calendar-day rollover.
func (s StateConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("state.timezone: %w", err)
	}
	return loc, nil
}

// Snapshot converts the monitor section into a validated immutable snapshot.
func (m MonitorConfig) Snapshot(revision string) (*monitor.Snapshot, error) {
	watchlist := make(monitor.Watchlist, 0, len(m.Watchlist))
	for _, entry := range m.Watchlist {
		watchlist = append(watchlist, monitor.Asset{
			Symbol:   strings.ToUpper(strings.TrimSpace(entry.Symbol)),
			SourceID: strings.TrimSpace(entry.ID),
		})
	}

	templates := make(monitor.Templates, len(m.Templates))
	for tier, body := range m.Templates {
		templates[monitor.AlertTier(strings.ToLower(tier))] = body
	}

	snap := &monitor.Snapshot{
		Thresholds: monitor.ThresholdConfig{
			Buy:           decimal.NewFromFloat(m.Thresholds.Buy),
			MajorBuy:      decimal.NewFromFloat(m.Thresholds.MajorBuy),
			Sell:          decimal.NewFromFloat(m.Thresholds.Sell),
			MajorSell:     decimal.NewFromFloat(m.Thresholds.MajorSell),
			EmergencyStop: decimal.NewFromFloat(m.Thresholds.EmergencyStop),
		},
		Watchlist:             watchlist,
		PollInterval:          m.PollInterval,
		Cooldown:              m.Cooldown,
		EmergencyCooldown:     m.EmergencyCooldown,
		DailyCap:              m.DailyCap,
		AnomalyThresholdPct:   decimal.NewFromFloat(m.AnomalyThresholdPct),
		StartupNotification:   m.StartupNotification,
		RecordAllObservations: m.RecordAllObservations,
		Templates:             templates,
		Revision:              revision,
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	return snap, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
