package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Prune removes alert history recorded before opts.Before.
func (a *App) Prune(ctx context.Context, opts PruneOptions) (int64, error) {
	if opts.Before.IsZero() {
		return 0, errors.New("prune cutoff is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return 0, err
	}
	if store == nil {
		return 0, errors.New("database not configured; nothing to prune")
	}
	defer closeStore()

	if opts.DryRun {
		n, err := store.CountAlertsBefore(ctx, opts.Before)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(a.Out, "would delete %d alerts sent before %s (%s)\n",
			n, opts.Before.Local().Format(time.DateTime), humanize.Time(opts.Before))
		return n, nil
	}

	n, err := store.DeleteAlertsBefore(ctx, opts.Before)
	if err != nil {
		return 0, err
	}
	a.Logger.Info().Int64("deleted", n).Time("before", opts.Before).Msg("alert history pruned")
	fmt.Fprintf(a.Out, "deleted %d alerts sent before %s\n", n, opts.Before.Local().Format(time.DateTime))
	return n, nil
}
