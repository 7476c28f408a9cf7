package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/heatrank/backend/pkg/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Applies the embedded SQL migrations that have not run yet.
Each migration runs in its own transaction.

Example:
  go run ./cmd/heatrank migrate
  go run ./cmd/heatrank migrate --list`,
	RunE: runMigrate,
}

var migrateList bool

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "list embedded migrations without connecting")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if migrateList {
		migrations, err := database.Migrations()
		if err != nil {
			return err
		}
		for _, m := range migrations {
			fmt.Println(m.Version)
		}
		return nil
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	db, err := database.New(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	applied, err := db.Migrate(cmd.Context())
	if err != nil {
		return err
	}

	log.WithField("applied", len(applied)).Info("Migrations finished")
	if len(applied) == 0 {
		PrintSuccess("Schema is up to date")
		return nil
	}
	for _, name := range applied {
		PrintSuccess("Applied " + name)
	}
	return nil
}
