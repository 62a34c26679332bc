package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-tier-alerts/internal/app"
)

var (
	pruneBefore    string
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete alert history older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		cutoff, err := pruneCutoff(pruneBefore, pruneOlderThan, time.Now())
		if err != nil {
			return err
		}

		_, err = getApp().Prune(cmd.Context(), app.PruneOptions{Before: cutoff, DryRun: pruneDryRun})
		return err
	},
}

func pruneCutoff(before string, olderThan time.Duration, now time.Time) (time.Time, error) {
	switch {
	case before != "" && olderThan > 0:
		return time.Time{}, errors.New("use either --before or --older-than, not both")
	case before != "":
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --before value: %w", err)
		}
		return t, nil
	case olderThan > 0:
		return now.Add(-olderThan), nil
	default:
		return time.Time{}, errors.New("--before or --older-than must be provided")
	}
}

func init() {
	pruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Delete alerts sent before this timestamp (RFC3339)")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Delete alerts older than this duration, e.g. 720h")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Only report how many alerts would be deleted")
}
