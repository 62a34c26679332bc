package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-tier-alerts/internal/monitor"
)

// observationRow and alertRow hold the column values common to both drivers.
// Decimals travel as text so neither driver rounds them.
type observationRow struct {
	symbol     string
	price      string
	change     string
	volume     sql.NullString
	marketCap  sql.NullString
	observedAt time.Time
}

type alertRow struct {
	id      int64
	symbol  string
	tier    string
	message string
	price   string
	change  string
	sentAt  time.Time
}

func newObservationRow(obs monitor.PriceObservation) observationRow {
	return observationRow{
		symbol:     obs.Symbol,
		price:      obs.Price.String(),
		change:     obs.Change24h.String(),
		volume:     nullDecimal(obs.Volume24h),
		marketCap:  nullDecimal(obs.MarketCap),
		observedAt: obs.ObservedAt,
	}
}

func (r observationRow) toObservation() (monitor.PriceObservation, error) {
	price, err := decimal.NewFromString(r.price)
	if err != nil {
		return monitor.PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}
	change, err := decimal.NewFromString(r.change)
	if err != nil {
		return monitor.PriceObservation{}, fmt.Errorf("parse change: %w", err)
	}
	volume, err := parseNullDecimal(r.volume)
	if err != nil {
		return monitor.PriceObservation{}, fmt.Errorf("parse volume: %w", err)
	}
	marketCap, err := parseNullDecimal(r.marketCap)
	if err != nil {
		return monitor.PriceObservation{}, fmt.Errorf("parse market cap: %w", err)
	}
	return monitor.PriceObservation{
		Symbol:     r.symbol,
		Price:      price,
		Change24h:  change,
		Volume24h:  volume,
		MarketCap:  marketCap,
		ObservedAt: r.observedAt,
	}, nil
}

func (r alertRow) toRecord() (monitor.AlertRecord, error) {
	price, err := decimal.NewFromString(r.price)
	if err != nil {
		return monitor.AlertRecord{}, fmt.Errorf("parse price: %w", err)
	}
	change, err := decimal.NewFromString(r.change)
	if err != nil {
		return monitor.AlertRecord{}, fmt.Errorf("parse change: %w", err)
	}
	return monitor.AlertRecord{
		ID:        r.id,
		Symbol:    r.symbol,
		Tier:      monitor.AlertTier(r.tier),
		Message:   r.message,
		Price:     price,
		Change24h: change,
		SentAt:    r.sentAt,
	}, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func tierStrings(tiers []monitor.AlertTier) []string {
	out := make([]string, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, string(t))
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
