package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// taskCmd represents the task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect import tasks",
	Long: `Shows the status of date-group tasks.

Subcommands:
  get    - one task by id
  batch  - every task of one submission

Example:
  go run ./cmd/heatrank task get 42
  go run ./cmd/heatrank task batch 0b7f3a4e-8f5c-4a63-9a57-2d5f1c3b9e10`,
}

var (
	taskGetCmd = &cobra.Command{
		Use:   "get [id]",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskGet,
	}

	taskBatchCmd = &cobra.Command{
		Use:   "batch [batch_id]",
		Short: "List the tasks of one submission",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskBatch,
	}

	taskJSON bool
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskBatchCmd)

	taskCmd.PersistentFlags().BoolVar(&taskJSON, "json", false, "print as JSON")
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", args[0])
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.coord.TaskStatus(cmd.Context(), id)
	if err != nil {
		return err
	}

	if taskJSON {
		return printJSON(task)
	}
	PrintTask(task)
	return nil
}

func runTaskBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.coord.BatchTasks(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if taskJSON {
		return printJSON(list)
	}
	for _, t := range list {
		PrintTask(t)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
