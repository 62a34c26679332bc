package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-tier-alerts/internal/monitor"
)

var csvHeader = []string{"observed_at", "symbol", "price", "change_24h_pct", "volume_24h", "market_cap"}

// Export writes stored observations to CSV and/or a PNG chart. PNG output
// plots one symbol: price on the left axis, 24h change on the right.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if opts.PNGPath != "" && symbol == "" {
		return errors.New("--png needs --symbol")
	}

	maxPoints := a.Config.ResolveMaxPoints(opts.MaxPoints)
	from, to, err := exportWindow(opts, maxPoints, a.Config.Monitor.PollInterval, time.Now())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	observations, err := store.ListObservationsBetween(ctx, symbol, from, to)
	if err != nil {
		return err
	}
	logger := a.Logger.With().Str("symbol", orDash(symbol)).Time("from", from).Time("to", to).Logger()
	if len(observations) == 0 {
		logger.Info().Msg("no observations in export window")
		return nil
	}

	points := downsample(observations, maxPoints)
	logger.Info().Int("stored", len(observations)).Int("exported", len(points)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return encodeCSV(w, points) }); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return renderChart(w, symbol, points) }); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
	}
	return nil
}

// exportWindow defaults to the span maxPoints polls would cover, ending now.
func exportWindow(opts ExportOptions, maxPoints int, poll time.Duration, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(maxPoints) * poll)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

// downsample keeps max evenly spaced points, always including both ends.
func downsample(observations []monitor.PriceObservation, max int) []monitor.PriceObservation {
	if max <= 0 || len(observations) <= max {
		return observations
	}
	if max == 1 {
		return observations[len(observations)-1:]
	}

	out := make([]monitor.PriceObservation, 0, max)
	step := float64(len(observations)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := min(int(math.Round(step*float64(i))), len(observations)-1)
		out = append(out, observations[idx])
	}
	return out
}

func encodeCSV(w io.Writer, observations []monitor.PriceObservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, obs := range observations {
		if err := cw.Write([]string{
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.Symbol,
			obs.Price.String(),
			obs.Change24h.String(),
			optionalString(obs.Volume24h),
			optionalString(obs.MarketCap),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderChart(w io.Writer, symbol string, observations []monitor.PriceObservation) error {
	times := make([]time.Time, len(observations))
	prices := make([]float64, len(observations))
	changes := make([]float64, len(observations))
	for i, obs := range observations {
		times[i] = obs.ObservedAt
		prices[i] = obs.Price.InexactFloat64()
		changes[i] = obs.Change24h.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  symbol + " price and 24h change",
		Width:  1280,
		Height: 720,
		XAxis:  chart.XAxis{ValueFormatter: chart.TimeValueFormatter},
		YAxis: chart.YAxis{
			Name: "price",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "24h change %",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "price", XValues: times, YValues: prices},
			chart.TimeSeries{Name: "24h change %", XValues: times, YValues: changes, YAxis: chart.YAxisSecondary},
		},
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}
	return graph.Render(chart.PNG, w)
}

// writeFile creates path (and its directory) and hands it to encode.
func writeFile(path string, encode func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func optionalString(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}
