package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Show prints recent alerts or price observations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to show")
	}
	defer closeStore()

	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)

	switch opts.Kind {
	case "alerts", "":
		alerts, err := store.ListRecentAlerts(ctx, symbol, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(a.Out, "no alerts found")
			return nil
		}

		fmt.Fprintln(writer, "Sent\tAge\tSymbol\tTier\tPrice\tChange%\tMessage")
		for _, rec := range alerts {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.SentAt.Local().Format(time.DateTime),
				humanize.Time(rec.SentAt),
				rec.Symbol,
				rec.Tier,
				formatDecimal(rec.Price, 4),
				formatDecimal(rec.Change24h, 2),
				firstLine(rec.Message),
			)
		}
	case "prices":
		observations, err := store.ListRecentObservations(ctx, symbol, opts.Limit)
		if err != nil {
			return err
		}
		if len(observations) == 0 {
			fmt.Fprintln(a.Out, "no observations found")
			return nil
		}

		fmt.Fprintln(writer, "Observed\tSymbol\tPrice\tChange%\tVolume 24h\tMarket cap")
		for _, obs := range observations {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				obs.ObservedAt.Local().Format(time.DateTime),
				obs.Symbol,
				formatDecimal(obs.Price, 4),
				formatDecimal(obs.Change24h, 2),
				formatOptional(obs.Volume24h),
				formatOptional(obs.MarketCap),
			)
		}
	default:
		return fmt.Errorf("unknown history kind %q (want alerts or prices)", opts.Kind)
	}

	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return humanize.CommafWithDigits(d.InexactFloat64(), 0)
}

func firstLine(v string) string {
	line, _, _ := strings.Cut(v, "\n")
	return strings.ReplaceAll(line, "\r", " ")
}
