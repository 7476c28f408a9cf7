package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: repository interfaces are defined here only.
// PostgreSQL implementations live next to each stage; internal/memstore
// implements all of them in memory.

// WritePlan is the set of row operations for one (import type, date) group.
// Applied atomically: either every operation lands or none does.
type WritePlan struct {
	ImportType  ImportType
	Date        time.Time
	BatchID     string
	DeleteAll   bool               // replace: drop every row of the date first
	DeleteCodes []string           // sync: store-only codes
	Updates     []NormalizedRecord // codes already stored
	Inserts     []NormalizedRecord
}

// Rows returns the number of records the plan writes
func (p *WritePlan) Rows() int {
	return len(p.Updates) + len(p.Inserts)
}

// WriteResult counts rows touched by a WritePlan
type WriteResult struct {
	Deleted  int `json:"deleted"`
	Updated  int `json:"updated"`
	Inserted int `json:"inserted"`
}

// MetricStore persists normalized records
type MetricStore interface {
	// ExistingCodes returns the distinct normalized codes stored for the date
	ExistingCodes(ctx context.Context, t ImportType, date time.Time) (map[string]struct{}, error)
	// Apply runs the plan in one transaction; failures return *TransactionError
	Apply(ctx context.Context, plan *WritePlan) (*WriteResult, error)
}

// MetricReader reads stored metrics for ranking
type MetricReader interface {
	// MetricsForDate returns code → metric; with duplicate rows the latest insert wins
	MetricsForDate(ctx context.Context, t ImportType, date time.Time) (map[string]float64, error)
	// ImportedDates lists dates with raw rows inside [from, to]
	ImportedDates(ctx context.Context, t ImportType, from, to time.Time) ([]time.Time, error)
}

// MembershipRepository manages concept membership
type MembershipRepository interface {
	MembersByConcept(ctx context.Context) (map[string][]string, error)
	ReplaceSource(ctx context.Context, source string, members []ConceptMembership) (int, error)
	AddMembers(ctx context.Context, members []ConceptMembership) (int, error)
	Aliases(ctx context.Context) (map[string]string, error)
	SaveAlias(ctx context.Context, alias, canonical string) error
}

// DerivedRepository stores rankings, summaries and their freshness
type DerivedRepository interface {
	// SummaryHistory returns concept → points with from <= date <= to
	SummaryHistory(ctx context.Context, t ImportType, from, to time.Time) (map[string][]HistoryPoint, error)
	// ReplaceDerived deletes the date's rows, inserts the new ones and marks
	// the date fresh, all in one transaction
	ReplaceDerived(ctx context.Context, t ImportType, date time.Time, rankings []StockConceptRanking, summaries []ConceptDailySummary) error
	MarkStale(ctx context.Context, t ImportType, date time.Time, reason string) error
	State(ctx context.Context, t ImportType, date time.Time) (*DerivedState, error)
	Summaries(ctx context.Context, t ImportType, date time.Time) ([]ConceptDailySummary, error)
	Rankings(ctx context.Context, t ImportType, date time.Time, concept string) ([]StockConceptRanking, error)
}

// TaskRepository persists import tasks
type TaskRepository interface {
	// Create inserts a processing task and sets its ID
	Create(ctx context.Context, task *ImportTask) error
	// Finalize writes the terminal state; ErrInvalidTransition unless stored status is processing
	Finalize(ctx context.Context, task *ImportTask) error
	Get(ctx context.Context, id int64) (*ImportTask, error)
	ListByBatch(ctx context.Context, batchID string) ([]*ImportTask, error)
}

// Deriver recomputes rankings, summaries and new high flags for one date
type Deriver interface {
	Derive(ctx context.Context, t ImportType, date time.Time) (*DeriveResult, error)
}

// HighDetector annotates summaries with new high flags and streaks
type HighDetector interface {
	Annotate(ctx context.Context, t ImportType, date time.Time, summaries []ConceptDailySummary) (int, error)
}
