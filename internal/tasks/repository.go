package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// Repository stores tasks in ops.import_tasks
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new task repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const taskColumns = `
	id, batch_id::text, import_type, trading_date, file_name, uploaded_by, mode, status,
	total_records, imported_records, error_records, skipped_records,
	started_at, finished_at, duration_ms, error_detail, breakdown
`

// Create implements contracts.TaskRepository
func (r *Repository) Create(ctx context.Context, task *contracts.ImportTask) error {
	query := `
		INSERT INTO ops.import_tasks (
			batch_id, import_type, trading_date, file_name, uploaded_by, mode, status,
			total_records, imported_records, error_records, skipped_records, started_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		task.BatchID, string(task.ImportType), task.TradingDate, task.FileName, task.UploadedBy,
		string(task.Mode), string(task.Status),
		task.TotalRecords, task.ImportedRecords, task.ErrorRecords, task.SkippedRecords, task.StartedAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Finalize implements contracts.TaskRepository
func (r *Repository) Finalize(ctx context.Context, task *contracts.ImportTask) error {
	var breakdown []byte
	if task.Breakdown != nil {
		b, err := json.Marshal(task.Breakdown)
		if err != nil {
			return fmt.Errorf("failed to marshal breakdown: %w", err)
		}
		breakdown = b
	}

	// the status guard makes a terminal task immutable
	query := `
		UPDATE ops.import_tasks SET
			status = $2,
			total_records = $3,
			imported_records = $4,
			error_records = $5,
			skipped_records = $6,
			finished_at = $7,
			duration_ms = $8,
			error_detail = NULLIF($9, ''),
			breakdown = $10::jsonb
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := r.pool.Exec(ctx, query,
		task.ID, string(task.Status),
		task.TotalRecords, task.ImportedRecords, task.ErrorRecords, task.SkippedRecords,
		task.FinishedAt, task.DurationMs, task.ErrorDetail, breakdown,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, task.ID); err != nil {
			return err
		}
		return contracts.ErrInvalidTransition
	}
	return nil
}

// Get implements contracts.TaskRepository
func (r *Repository) Get(ctx context.Context, id int64) (*contracts.ImportTask, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+taskColumns+" FROM ops.import_tasks WHERE id = $1", id)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListByBatch implements contracts.TaskRepository
func (r *Repository) ListByBatch(ctx context.Context, batchID string) ([]*contracts.ImportTask, error) {
	query := "SELECT " + taskColumns + `
		FROM ops.import_tasks
		WHERE batch_id = $1::uuid
		ORDER BY trading_date NULLS FIRST, id
	`

	rows, err := r.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []*contracts.ImportTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, contracts.ErrNotFound)
	}
	return out, nil
}

func scanTask(row pgx.Row) (*contracts.ImportTask, error) {
	var (
		task        contracts.ImportTask
		importType  string
		mode        string
		status      string
		tradingDate *time.Time
		errorDetail *string
		breakdown   []byte
	)

	err := row.Scan(
		&task.ID, &task.BatchID, &importType, &tradingDate, &task.FileName, &task.UploadedBy,
		&mode, &status,
		&task.TotalRecords, &task.ImportedRecords, &task.ErrorRecords, &task.SkippedRecords,
		&task.StartedAt, &task.FinishedAt, &task.DurationMs, &errorDetail, &breakdown,
	)
	if err != nil {
		return nil, err
	}

	task.ImportType = contracts.ImportType(importType)
	task.Mode = contracts.OverwriteMode(mode)
	task.Status = contracts.TaskStatus(status)
	task.TradingDate = tradingDate
	if errorDetail != nil {
		task.ErrorDetail = *errorDetail
	}
	if len(breakdown) > 0 {
		var b contracts.DateBreakdown
		if err := json.Unmarshal(breakdown, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
		task.Breakdown = &b
	}
	return &task, nil
}
