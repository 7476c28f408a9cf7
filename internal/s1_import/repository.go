package s1_import

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// Repository reads raw metric rows
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new metric repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MetricsForDate implements contracts.MetricReader.
// Rows duplicated by append mode resolve to the most recent insert.
func (r *Repository) MetricsForDate(ctx context.Context, t contracts.ImportType, date time.Time) (map[string]float64, error) {
	query := `
		SELECT DISTINCT ON (stock_code) stock_code, metric_value
		FROM data.stock_metrics
		WHERE import_type = $1 AND trading_date = $2
		ORDER BY stock_code, id DESC
	`

	rows, err := r.pool.Query(ctx, query, string(t), date)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			code  string
			value float64
		)
		if err := rows.Scan(&code, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		out[code] = value
	}
	return out, rows.Err()
}

// ImportedDates implements contracts.MetricReader
func (r *Repository) ImportedDates(ctx context.Context, t contracts.ImportType, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT trading_date
		FROM data.stock_metrics
		WHERE import_type = $1 AND trading_date BETWEEN $2 AND $3
		ORDER BY trading_date
	`

	rows, err := r.pool.Query(ctx, query, string(t), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query dates: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
