package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/s1_import"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Import metric files",
	Long: `Imports one or more files. Each file is split into trading-date groups;
every group is written in its own transaction and gets its own task.

Modes:
  update   overwrite existing stocks, insert new ones (default)
  append   insert every row, keep existing rows
  replace  delete the date's rows, then insert
  sync     like update, and delete stocks missing from the file

Use "-" to read standard input.

Example:
  go run ./cmd/heatrank import volume.txt --type volume
  go run ./cmd/heatrank import heat_2025-09-06.csv --type heat --mode replace
  go run ./cmd/heatrank import export.xlsx --type heat --date 2025-09-06 --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

var (
	importType       string
	importMode       string
	importFormat     string
	importDate       string
	importUploadedBy string
	importDryRun     bool
	importMembers    string
	importJSON       bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importType, "type", "t", "", "import type (volume|heat)")
	importCmd.Flags().StringVarP(&importMode, "mode", "m", "", "overwrite mode (update|append|replace|sync)")
	importCmd.Flags().StringVar(&importFormat, "format", "", "input layout (tsv|wide|xlsx), inferred from the extension when empty")
	importCmd.Flags().StringVar(&importDate, "date", "", "trading date for wide files without a date column (YYYY-MM-DD)")
	importCmd.Flags().StringVar(&importUploadedBy, "uploaded-by", os.Getenv("USER"), "operator recorded on the tasks")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "run against an in-memory store; nothing is written")
	importCmd.Flags().StringVar(&importMembers, "members", "", "membership file for --dry-run (JSON feed or code<TAB>concepts lines)")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "print summaries as JSON")
	_ = importCmd.MarkFlagRequired("type")
}

var errImportFailed = errors.New("import finished with failures")

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		a   *app
		err error
	)
	if importDryRun {
		a, _, err = newDryRunApp(ctx, importMembers)
	} else {
		a, err = newApp(ctx)
	}
	if err != nil {
		return err
	}
	defer a.Close()

	failed := false
	for _, path := range args {
		summary, err := importOne(ctx, a.coord, path)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}

		if importJSON {
			if err := printJSON(summary); err != nil {
				return err
			}
		} else {
			PrintSummary(summary)
			if importDryRun {
				printDryRunSummaries(ctx, a, summary)
			}
		}
		failed = failed || !summary.Success
	}

	if failed {
		return errImportFailed
	}
	return nil
}

func importOne(ctx context.Context, coord *s1_import.Coordinator, path string) (*contracts.ImportSummary, error) {
	var (
		r    io.Reader = os.Stdin
		name           = "stdin"
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r, name = f, filepath.Base(path)
	}

	return coord.Submit(ctx, s1_import.ImportRequest{
		FileName:    name,
		UploadedBy:  importUploadedBy,
		ImportType:  importType,
		Mode:        importMode,
		Format:      importFormat,
		TradingDate: importDate,
	}, r)
}

// printDryRunSummaries shows the top concepts each date would have produced
func printDryRunSummaries(ctx context.Context, a *app, s *contracts.ImportSummary) {
	for _, d := range s.Dates {
		date, err := contracts.ParseDate(d.Date)
		if err != nil || !d.DerivedOK {
			continue
		}
		sums, err := a.derived.Summaries(ctx, s.ImportType, date)
		if err != nil || len(sums) == 0 {
			continue
		}

		fmt.Printf("\nTop concepts %s\n", d.Date)
		widths := []int{4, 20, 16, 6, 9}
		PrintTableHeader([]string{"RANK", "CONCEPT", "TOTAL", "STOCKS", "NEW HIGH"}, widths)
		for i, sum := range sums {
			if i == 10 {
				break
			}
			high := ""
			if sum.IsNewHigh {
				high = "★ " + strconv.Itoa(sum.NewHighStreak)
			}
			PrintTableRow([]string{
				strconv.Itoa(sum.ConceptRank),
				sum.Concept,
				sum.Total.StringFixed(2),
				strconv.Itoa(sum.StockCount),
				high,
			}, widths)
		}
	}
}
