package contracts

import (
	"time"
)

// TaskStatus is the lifecycle state of one date-group import
type TaskStatus string

const (
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskPartial    TaskStatus = "partial"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskPartial || s == TaskFailed
}

// CanTransitionTo enforces processing → {completed | partial | failed}
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	return s == TaskProcessing && next.IsTerminal()
}

// ResolveStatus maps final counts to a terminal status.
// Zero imported is failed, any error or stale derived data is partial.
func ResolveStatus(imported, errors int, derivedStale bool) TaskStatus {
	switch {
	case imported == 0:
		return TaskFailed
	case errors > 0 || derivedStale:
		return TaskPartial
	default:
		return TaskCompleted
	}
}

// ImportTask tracks one date group of one submission
type ImportTask struct {
	ID              int64          `json:"id"`
	BatchID         string         `json:"batch_id"`
	ImportType      ImportType     `json:"import_type"`
	TradingDate     *time.Time     `json:"trading_date,omitempty"` // nil when no line parsed
	FileName        string         `json:"file_name"`
	UploadedBy      string         `json:"uploaded_by"`
	Mode            OverwriteMode  `json:"mode"`
	Status          TaskStatus     `json:"status"`
	TotalRecords    int            `json:"total_records"`
	ImportedRecords int            `json:"imported_records"`
	ErrorRecords    int            `json:"error_records"`
	SkippedRecords  int            `json:"skipped_records"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	DurationMs      int64          `json:"duration_ms"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	Breakdown       *DateBreakdown `json:"breakdown,omitempty"`
}

// DateBreakdown is the structured per-date outcome
type DateBreakdown struct {
	Date        string     `json:"trading_date"`
	TaskID      int64      `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Total       int        `json:"total_records"`
	Imported    int        `json:"imported_records"`
	Errors      int        `json:"error_records"`
	Skipped     int        `json:"skipped_records"`
	Inserted    int        `json:"inserted"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Concepts    int        `json:"concepts"`
	NewHighs    int        `json:"new_highs"`
	DerivedOK   bool       `json:"derived_ok"`
	DurationMs  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
	ErrorSample []string   `json:"error_sample,omitempty"`
}

// ImportSummary is returned by a submission
type ImportSummary struct {
	BatchID         string          `json:"batch_id"`
	FileName        string          `json:"file_name"`
	ImportType      ImportType      `json:"import_type"`
	Mode            OverwriteMode   `json:"mode"`
	Success         bool            `json:"success"`
	TotalRecords    int             `json:"total_records"`
	ImportedRecords int             `json:"imported_records"`
	ErrorRecords    int             `json:"error_records"`
	SkippedRecords  int             `json:"skipped_records"`
	Dates           []DateBreakdown `json:"per_date_breakdown"`
	Warnings        []string        `json:"warnings,omitempty"`
	TaskIDs         []int64         `json:"task_ids"`
	DurationMs      int64           `json:"duration_ms"`
}
