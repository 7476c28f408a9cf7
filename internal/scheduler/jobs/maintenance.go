package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/heatrank/backend/internal/profile"
	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// TableMaintainer is satisfied by the bulk writer
type TableMaintainer interface {
	Maintain(ctx context.Context, opts s1_import.MaintainOptions) error
	TableStats(ctx context.Context) ([]s1_import.TableStats, error)
}

// MaintenanceJob analyzes the pipeline tables nightly, vacuuming and
// reindexing when the profile asks for it
type MaintenanceJob struct {
	writer   TableMaintainer
	opts     s1_import.MaintainOptions
	schedule string
	logger   *logger.Logger
}

// NewMaintenanceJob creates a new table maintenance job
func NewMaintenanceJob(writer TableMaintainer, m profile.Maintenance, schedule string, log *logger.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		writer: writer,
		opts: s1_import.MaintainOptions{
			Analyze: true,
			Vacuum:  m.Vacuum,
			Reindex: m.Reindex,
		},
		schedule: schedule,
		logger:   log.Module("maintenance"),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "table_maintenance"
}

// Schedule returns the cron schedule
func (j *MaintenanceJob) Schedule() string {
	return j.schedule
}

// Run executes the maintenance pass and logs table sizes afterwards
func (j *MaintenanceJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled table maintenance")

	if err := j.writer.Maintain(ctx, j.opts); err != nil {
		return fmt.Errorf("maintain tables: %w", err)
	}

	stats, err := j.writer.TableStats(ctx)
	if err != nil {
		j.logger.WithError(err).Warn("Failed to read table stats")
		return nil
	}
	for _, s := range stats {
		j.logger.WithFields(map[string]interface{}{
			"table":     s.Table,
			"live_rows": s.LiveRows,
			"dead_rows": s.DeadRows,
			"bytes":     s.TotalBytes,
		}).Info("Table stats")
	}
	return nil
}
