package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	profilePath string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "heatrank",
	Short: "Concept heat ingestion and ranking engine",
	Long: `heatrank CLI

Imports daily per-stock metric files (tab form or wide CSV/XLSX exports),
stores them per trading date, and derives per-concept rankings, summaries
and N-day new highs.

Usage:
  go run ./cmd/heatrank [command]

Examples:
  go run ./cmd/heatrank migrate
  go run ./cmd/heatrank import volume.txt --type volume --mode update
  go run ./cmd/heatrank import heat_2025-09-06.csv --type heat --dry-run
  go run ./cmd/heatrank recompute --type volume --date 2025-09-06
  go run ./cmd/heatrank serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "pipeline profile YAML (default: IMPORT_PROFILE or built-in)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
