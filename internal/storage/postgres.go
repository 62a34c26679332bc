package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"price-tier-alerts/internal/monitor"
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS price_history (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT        NOT NULL,
        price       NUMERIC     NOT NULL,
        change_24h  NUMERIC     NOT NULL,
        volume_24h  NUMERIC,
        market_cap  NUMERIC,
        observed_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS price_history_symbol_ts ON price_history (symbol, observed_at);
    CREATE TABLE IF NOT EXISTS alert_history (
        id         BIGSERIAL PRIMARY KEY,
        symbol     TEXT        NOT NULL,
        tier       TEXT        NOT NULL,
        message    TEXT        NOT NULL,
        price      NUMERIC     NOT NULL,
        change_24h NUMERIC     NOT NULL,
        sent_at    TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS alert_history_symbol_ts ON alert_history (symbol, sent_at);`

	pgInsertObservationSQL = `INSERT INTO price_history (
        symbol, price, change_24h, volume_24h, market_cap, observed_at
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	pgInsertAlertSQL = `INSERT INTO alert_history (
        symbol, tier, message, price, change_24h, sent_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id;`

	pgAlertColumns = `id, symbol, tier, message, price::text, change_24h::text, sent_at`

	pgAlertsSinceSQL = `SELECT ` + pgAlertColumns + `
    FROM alert_history
    WHERE symbol = $1
      AND tier = ANY($2)
      AND sent_at >= $3
    ORDER BY sent_at DESC;`

	pgRecentAlertsSQL = `SELECT ` + pgAlertColumns + `
    FROM alert_history
    WHERE ($1 = '' OR symbol = $1)
    ORDER BY sent_at DESC, id DESC
    LIMIT $2;`

	pgObservationColumns = `symbol, price::text, change_24h::text, volume_24h::text, market_cap::text, observed_at`

	pgRecentObservationsSQL = `SELECT ` + pgObservationColumns + `
    FROM price_history
    WHERE ($1 = '' OR symbol = $1)
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	pgObservationsBetweenSQL = `SELECT ` + pgObservationColumns + `
    FROM price_history
    WHERE ($1 = '' OR symbol = $1)
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	pgCountAlertsBeforeSQL  = `SELECT COUNT(*) FROM alert_history WHERE sent_at < $1;`
	pgDeleteAlertsBeforeSQL = `DELETE FROM alert_history WHERE sent_at < $1;`
)

// Postgres stores history in PostgreSQL through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	// writes are serialised so a burst at the end of a cycle lands in order
	mu sync.Mutex
}

// NewPostgres wires a pgx pool into a store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the history tables when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// AppendObservation persists one price observation.
func (s *Postgres) AppendObservation(ctx context.Context, obs monitor.PriceObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	row := newObservationRow(obs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := pool.Exec(ctx, pgInsertObservationSQL,
		row.symbol, row.price, row.change, row.volume, row.marketCap, row.observedAt,
	); err != nil {
		return fmt.Errorf("%w: insert observation: %v", monitor.ErrStoreWriteFailed, err)
	}
	return nil
}

// AppendAlert persists a delivered alert and returns it with its id.
func (s *Postgres) AppendAlert(ctx context.Context, rec monitor.AlertRecord) (monitor.AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.AlertRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := pool.QueryRow(ctx, pgInsertAlertSQL,
		rec.Symbol, string(rec.Tier), rec.Message, rec.Price.String(), rec.Change24h.String(), rec.SentAt,
	).Scan(&rec.ID); err != nil {
		return monitor.AlertRecord{}, fmt.Errorf("%w: insert alert: %v", monitor.ErrStoreWriteFailed, err)
	}
	return rec, nil
}

// AlertsSince lists alerts for symbol in the given tiers sent at or after since.
func (s *Postgres) AlertsSince(ctx context.Context, symbol string, tiers []monitor.AlertTier, since time.Time) ([]monitor.AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgAlertsSinceSQL, symbol, tierStrings(tiers), since)
	if err != nil {
		return nil, fmt.Errorf("query alerts since: %w", err)
	}
	return collectAlerts(rows)
}

// ListRecentAlerts lists the newest alerts first.
func (s *Postgres) ListRecentAlerts(ctx context.Context, symbol string, limit int) ([]monitor.AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgRecentAlertsSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	return collectAlerts(rows)
}

// ListRecentObservations lists the newest observations first.
func (s *Postgres) ListRecentObservations(ctx context.Context, symbol string, limit int) ([]monitor.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgRecentObservationsSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent observations: %w", err)
	}
	return collectObservations(rows)
}

// ListObservationsBetween lists observations in [from, to) in time order.
func (s *Postgres) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]monitor.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgObservationsBetweenSQL, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("list observations between: %w", err)
	}
	return collectObservations(rows)
}

// CountAlertsBefore reports how many alerts DeleteAlertsBefore would remove.
func (s *Postgres) CountAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := pool.QueryRow(ctx, pgCountAlertsBeforeSQL, olderThan).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts before: %w", err)
	}
	return n, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many went.
func (s *Postgres) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := pool.Exec(ctx, pgDeleteAlertsBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAlerts(rows pgx.Rows) ([]monitor.AlertRecord, error) {
	defer rows.Close()

	alerts := make([]monitor.AlertRecord, 0)
	for rows.Next() {
		var row alertRow
		if err := rows.Scan(&row.id, &row.symbol, &row.tier, &row.message, &row.price, &row.change, &row.sentAt); err != nil {
			return nil, err
		}
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectObservations(rows pgx.Rows) ([]monitor.PriceObservation, error) {
	defer rows.Close()

	out := make([]monitor.PriceObservation, 0)
	for rows.Next() {
		var row observationRow
		if err := rows.Scan(&row.symbol, &row.price, &row.change, &row.volume, &row.marketCap, &row.observedAt); err != nil {
			return nil, err
		}
		obs, err := row.toObservation()
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

var _ HistoryStore = (*Postgres)(nil)
