package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"price-tier-alerts/internal/monitor"
)

// Timestamps are stored as unix milliseconds so range queries compare integers.
const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	price TEXT NOT NULL,
	change_24h TEXT NOT NULL,
	volume_24h TEXT,
	market_cap TEXT,
	observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_symbol_ts ON price_history (symbol, observed_at);
CREATE TABLE IF NOT EXISTS alert_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	tier TEXT NOT NULL,
	message TEXT NOT NULL,
	price TEXT NOT NULL,
	change_24h TEXT NOT NULL,
	sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS alert_history_symbol_ts ON alert_history (symbol, sent_at);`

const (
	sqliteAlertColumns       = `id, symbol, tier, message, price, change_24h, sent_at`
	sqliteObservationColumns = `symbol, price, change_24h, volume_24h, market_cap, observed_at`
)

// SQLite stores history in an embedded database file.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (and creates, if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// AppendObservation persists one price observation.
func (s *SQLite) AppendObservation(ctx context.Context, obs monitor.PriceObservation) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	row := newObservationRow(obs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO price_history (`+sqliteObservationColumns+`) VALUES (?, ?, ?, ?, ?, ?);`,
		row.symbol, row.price, row.change, row.volume, row.marketCap, row.observedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("%w: insert observation: %v", monitor.ErrStoreWriteFailed, err)
	}
	return nil
}

// AppendAlert persists a delivered alert and returns it with its id.
func (s *SQLite) AppendAlert(ctx context.Context, rec monitor.AlertRecord) (monitor.AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return monitor.AlertRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := db.ExecContext(ctx,
		`INSERT INTO alert_history (symbol, tier, message, price, change_24h, sent_at) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.Symbol, string(rec.Tier), rec.Message, rec.Price.String(), rec.Change24h.String(), rec.SentAt.UnixMilli(),
	)
	if err != nil {
		return monitor.AlertRecord{}, fmt.Errorf("%w: insert alert: %v", monitor.ErrStoreWriteFailed, err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return monitor.AlertRecord{}, fmt.Errorf("%w: alert id: %v", monitor.ErrStoreWriteFailed, err)
	}
	return rec, nil
}

// AlertsSince lists alerts for symbol in the given tiers sent at or after since.
func (s *SQLite) AlertsSince(ctx context.Context, symbol string, tiers []monitor.AlertTier, since time.Time) ([]monitor.AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return []monitor.AlertRecord{}, nil
	}

	args := []any{symbol, since.UnixMilli()}
	for _, t := range tierStrings(tiers) {
		args = append(args, t)
	}
	query := `SELECT ` + sqliteAlertColumns + ` FROM alert_history
	WHERE symbol = ? AND sent_at >= ? AND tier IN (` + placeholders(len(tiers)) + `)
	ORDER BY sent_at DESC;`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts since: %w", err)
	}
	return scanSQLiteAlerts(rows)
}

// ListRecentAlerts lists the newest alerts first.
func (s *SQLite) ListRecentAlerts(ctx context.Context, symbol string, limit int) ([]monitor.AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+sqliteAlertColumns+` FROM alert_history
	WHERE (? = '' OR symbol = ?)
	ORDER BY sent_at DESC, id DESC
	LIMIT ?;`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	return scanSQLiteAlerts(rows)
}

// ListRecentObservations lists the newest observations first.
func (s *SQLite) ListRecentObservations(ctx context.Context, symbol string, limit int) ([]monitor.PriceObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+sqliteObservationColumns+` FROM price_history
	WHERE (? = '' OR symbol = ?)
	ORDER BY observed_at DESC, id DESC
	LIMIT ?;`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent observations: %w", err)
	}
	return scanSQLiteObservations(rows)
}

// ListObservationsBetween lists observations in [from, to) in time order.
func (s *SQLite) ListObservationsBetween(ctx context.Context, symbol string, from, to time.Time) ([]monitor.PriceObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+sqliteObservationColumns+` FROM price_history
	WHERE (? = '' OR symbol = ?)
	  AND observed_at >= ? AND observed_at < ?
	ORDER BY observed_at, id;`, symbol, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list observations between: %w", err)
	}
	return scanSQLiteObservations(rows)
}

// CountAlertsBefore reports how many alerts DeleteAlertsBefore would remove.
func (s *SQLite) CountAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	var n int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history WHERE sent_at < ?;`, olderThan.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count alerts before: %w", err)
	}
	return n, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many went.
func (s *SQLite) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := db.ExecContext(ctx, `DELETE FROM alert_history WHERE sent_at < ?;`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete alerts before: %w", err)
	}
	return res.RowsAffected()
}

func scanSQLiteAlerts(rows *sql.Rows) ([]monitor.AlertRecord, error) {
	defer rows.Close()

	alerts := make([]monitor.AlertRecord, 0)
	for rows.Next() {
		var (
			row    alertRow
			sentAt int64
		)
		if err := rows.Scan(&row.id, &row.symbol, &row.tier, &row.message, &row.price, &row.change, &sentAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		row.sentAt = time.UnixMilli(sentAt)
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

func scanSQLiteObservations(rows *sql.Rows) ([]monitor.PriceObservation, error) {
	defer rows.Close()

	out := make([]monitor.PriceObservation, 0)
	for rows.Next() {
		var (
			row        observationRow
			observedAt int64
		)
		if err := rows.Scan(&row.symbol, &row.price, &row.change, &row.volume, &row.marketCap, &observedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		row.observedAt = time.UnixMilli(observedAt)
		obs, err := row.toObservation()
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

var _ HistoryStore = (*SQLite)(nil)
