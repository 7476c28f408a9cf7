package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// recomputeCmd represents the recompute command
var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild rankings and new highs from stored rows",
	Long: `Reruns ranking and new high detection for a date range without
re-importing. Use it after a membership refresh or to repair stale dates.

Example:
  go run ./cmd/heatrank recompute --type volume --date 2025-09-06
  go run ./cmd/heatrank recompute --type heat --from 2025-09-01 --to 2025-09-06`,
	RunE: runRecompute,
}

var (
	recomputeType string
	recomputeDate string
	recomputeFrom string
	recomputeTo   string
)

func init() {
	rootCmd.AddCommand(recomputeCmd)

	recomputeCmd.Flags().StringVarP(&recomputeType, "type", "t", "", "import type (volume|heat)")
	recomputeCmd.Flags().StringVar(&recomputeDate, "date", "", "single trading date (YYYY-MM-DD)")
	recomputeCmd.Flags().StringVar(&recomputeFrom, "from", "", "range start (YYYY-MM-DD)")
	recomputeCmd.Flags().StringVar(&recomputeTo, "to", "", "range end (YYYY-MM-DD)")
	_ = recomputeCmd.MarkFlagRequired("type")
	recomputeCmd.MarkFlagsMutuallyExclusive("date", "from")
}

func runRecompute(cmd *cobra.Command, args []string) error {
	spec, err := contracts.LookupImportType(recomputeType)
	if err != nil {
		return err
	}

	from, to, err := recomputeRange()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// only dates with stored rows are recomputed in a range
	dates := []time.Time{from}
	if !from.Equal(to) {
		dates, err = a.reader.ImportedDates(ctx, spec.Type, from, to)
		if err != nil {
			return fmt.Errorf("list imported dates: %w", err)
		}
	}

	PrintHeader(fmt.Sprintf("Recompute %s %s ~ %s", spec.Type, from.Format(contracts.DateLayout), to.Format(contracts.DateLayout)))
	failed := 0
	for _, d := range dates {
		res, err := a.coord.Recompute(ctx, spec.Type, d)
		if err != nil {
			failed++
			PrintError(fmt.Sprintf("%s: %v", d.Format(contracts.DateLayout), err))
			continue
		}
		PrintSuccess(fmt.Sprintf("%s: %d concepts, %d rankings, %d new highs",
			d.Format(contracts.DateLayout), res.Concepts, res.Rankings, res.NewHighs))
	}
	PrintSeparator()

	if failed > 0 {
		return fmt.Errorf("%d of %d dates failed", failed, len(dates))
	}
	return nil
}

func recomputeRange() (time.Time, time.Time, error) {
	if recomputeDate != "" {
		d, err := contracts.ParseDate(recomputeDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --date: %w", err)
		}
		return d, d, nil
	}
	if recomputeFrom == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--date or --from is required")
	}

	from, err := contracts.ParseDate(recomputeFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	to := contracts.DateOnly(time.Now())
	if recomputeTo != "" {
		if to, err = contracts.ParseDate(recomputeTo); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to is before --from")
	}
	return from, to, nil
}
