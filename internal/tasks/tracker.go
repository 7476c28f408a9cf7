package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// Tracker records the lifecycle of import tasks
// ⭐ SSOT: task status transitions go through here only
type Tracker struct {
	repo contracts.TaskRepository
	log  *logger.Logger
	now  func() time.Time
}

// NewTracker creates a new task tracker
func NewTracker(repo contracts.TaskRepository, log *logger.Logger) *Tracker {
	return &Tracker{
		repo: repo,
		log:  log.Module("tasks"),
		now:  time.Now,
	}
}

// Start persists task in processing state and assigns its ID
func (t *Tracker) Start(ctx context.Context, task *contracts.ImportTask) error {
	task.Status = contracts.TaskProcessing
	task.StartedAt = t.now().UTC()
	task.FinishedAt = nil

	if err := t.repo.Create(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	t.log.WithFields(map[string]interface{}{
		"task_id":  task.ID,
		"batch_id": task.BatchID,
		"date":     dateField(task.TradingDate),
	}).Debug("Task started")
	return nil
}

// Finish moves a processing task into status.
// Only processing → terminal is allowed; anything else is ErrInvalidTransition.
func (t *Tracker) Finish(ctx context.Context, task *contracts.ImportTask, status contracts.TaskStatus) error {
	if !task.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s → %s", contracts.ErrInvalidTransition, task.Status, status)
	}

	finished := t.now().UTC()
	task.Status = status
	task.FinishedAt = &finished
	task.DurationMs = finished.Sub(task.StartedAt).Milliseconds()
	if task.Breakdown != nil {
		task.Breakdown.TaskID = task.ID
		task.Breakdown.Status = status
		task.Breakdown.DurationMs = task.DurationMs
	}

	if err := t.repo.Finalize(ctx, task); err != nil {
		return fmt.Errorf("finalize task %d: %w", task.ID, err)
	}

	log := t.log.WithFields(map[string]interface{}{
		"task_id":  task.ID,
		"status":   status,
		"imported": task.ImportedRecords,
		"errors":   task.ErrorRecords,
		"date":     dateField(task.TradingDate),
	})
	if status == contracts.TaskFailed {
		log.Warn("Task failed")
	} else {
		log.Info("Task finished")
	}
	return nil
}

// Get returns one task
func (t *Tracker) Get(ctx context.Context, id int64) (*contracts.ImportTask, error) {
	return t.repo.Get(ctx, id)
}

// ListBatch returns every task of a submission ordered by trading date
func (t *Tracker) ListBatch(ctx context.Context, batchID string) ([]*contracts.ImportTask, error) {
	return t.repo.ListByBatch(ctx, batchID)
}

func dateField(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(contracts.DateLayout)
}
