package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"price-tier-alerts/internal/config"
	"price-tier-alerts/internal/monitor"
)

var (
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
)

// HistoryStore persists observations and delivered alerts. Implementations
// serialise their own writes. An empty symbol in list queries means all assets.
type HistoryStore interface {
	AppendObservation(ctx context.Context, obs monitor.PriceObservation) error
	AppendAlert(ctx context.Context, rec monitor.AlertRecord) (monitor.AlertRecord, error)
	AlertsSince(ctx context.Context, symbol string, tiers []monitor.AlertTier, since time.Time) ([]monitor.AlertRecord, error)
	ListRecentAlerts(ctx context.Context, symbol string, limit int) ([]monitor.AlertRecord, error)
	ListRecentObservations(ctx context.Context, symbol string, limit int) ([]monitor.PriceObservation, error)
	ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]monitor.PriceObservation, error)
	CountAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// Open builds the store selected by cfg.Driver. Driver "none" returns
// ErrNotConfigured so callers can run without persistence.
func Open(ctx context.Context, cfg config.DatabaseConfig) (HistoryStore, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "none", "":
		return nil, ErrNotConfigured
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
