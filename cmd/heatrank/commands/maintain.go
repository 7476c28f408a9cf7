package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/heatrank/backend/internal/s1_import"
)

// maintainCmd represents the maintain command
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Analyze, vacuum or reindex the pipeline tables",
	Long: `Refreshes planner statistics of the metric, ranking and summary
tables and prints their sizes.

Example:
  go run ./cmd/heatrank maintain
  go run ./cmd/heatrank maintain --vacuum --reindex
  go run ./cmd/heatrank maintain --stats-only`,
	RunE: runMaintain,
}

var (
	maintainVacuum    bool
	maintainReindex   bool
	maintainStatsOnly bool
)

func init() {
	rootCmd.AddCommand(maintainCmd)

	maintainCmd.Flags().BoolVar(&maintainVacuum, "vacuum", false, "VACUUM (ANALYZE) instead of ANALYZE")
	maintainCmd.Flags().BoolVar(&maintainReindex, "reindex", false, "REINDEX each table")
	maintainCmd.Flags().BoolVar(&maintainStatsOnly, "stats-only", false, "only print table statistics")
}

func runMaintain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !maintainStatsOnly {
		opts := s1_import.MaintainOptions{
			Analyze: true,
			Vacuum:  maintainVacuum || a.prof.Maintenance.Vacuum,
			Reindex: maintainReindex || a.prof.Maintenance.Reindex,
		}
		if err := a.writer.Maintain(ctx, opts); err != nil {
			return fmt.Errorf("maintain: %w", err)
		}
		PrintSuccess("Tables maintained")
	}

	stats, err := a.writer.TableStats(ctx)
	if err != nil {
		return err
	}

	PrintHeader("Table statistics")
	widths := []int{34, 12, 10, 12, 20}
	PrintTableHeader([]string{"TABLE", "LIVE", "DEAD", "SIZE", "LAST ANALYZE"}, widths)
	for _, s := range stats {
		analyzed := "-"
		if s.LastAnalyze != nil {
			analyzed = s.LastAnalyze.Format("2006-01-02 15:04")
		}
		PrintTableRow([]string{
			s.Table,
			strconv.FormatInt(s.LiveRows, 10),
			strconv.FormatInt(s.DeadRows, 10),
			humanBytes(s.TotalBytes),
			analyzed,
		}, widths)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
