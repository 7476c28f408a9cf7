package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/heatrank/backend/internal/scheduler"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect or run the scheduled jobs",
	Long: `Lists the jobs "serve" schedules or runs one of them once in this
process. A running server reports its own run history under
GET /api/scheduler/jobs.

Subcommands:
  list    - registered jobs and their schedules
  run     - run one job now and print its result

Example:
  go run ./cmd/heatrank scheduler list
  go run ./cmd/heatrank scheduler run table_maintenance`,
}

var (
	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "Registered jobs and their schedules",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	stats := sched.GetJobStats()

	PrintHeader("Scheduled jobs")
	widths := []int{24, 30}
	PrintTableHeader([]string{"JOB", "SCHEDULE"}, widths)
	for _, name := range sched.GetAllJobs() {
		PrintTableRow([]string{name, stats[name].Schedule}, widths)
	}
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer sched.Stop()

	fmt.Printf("Running job: %s\n", jobName)
	runErr := sched.RunJob(jobName)

	if history, err := sched.GetJobHistory(jobName); err == nil {
		for _, res := range history.GetLatestResults(1) {
			printJobResult(res)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run job: %w", runErr)
	}
	return nil
}

func printJobResult(res scheduler.JobResult) {
	PrintSeparator()
	PrintKeyValue("Job", res.JobName, 10)
	PrintKeyValue("Started", res.StartTime.Format("2006-01-02 15:04:05"), 10)
	PrintKeyValue("Duration", res.Duration.String(), 10)
	if res.Success {
		PrintSuccess("Job completed")
		return
	}
	PrintError("Job failed: " + res.Error)
}
