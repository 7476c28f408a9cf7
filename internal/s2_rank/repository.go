package s2_rank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// Repository stores derived rankings and summaries
// ⭐ SSOT: analytics.* tables are written here only
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new derived data repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var rankingColumns = []string{
	"import_type", "stock_code", "concept_name", "trading_date",
	"rank_in_concept", "metric_value", "metric_share_pct",
}

// ReplaceDerived implements contracts.DerivedRepository
func (r *Repository) ReplaceDerived(ctx context.Context, t contracts.ImportType, date time.Time, rankings []contracts.StockConceptRanking, summaries []contracts.ConceptDailySummary) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM analytics.stock_concept_rankings WHERE import_type = $1 AND trading_date = $2",
		string(t), date); err != nil {
		return fmt.Errorf("failed to delete old rankings: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM analytics.concept_daily_summaries WHERE import_type = $1 AND trading_date = $2",
		string(t), date); err != nil {
		return fmt.Errorf("failed to delete old summaries: %w", err)
	}

	if len(rankings) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"analytics", "stock_concept_rankings"},
			rankingColumns,
			pgx.CopyFromSlice(len(rankings), func(i int) ([]any, error) {
				rk := rankings[i]
				return []any{string(t), rk.Code, rk.Concept, date, rk.Rank, rk.Metric, rk.SharePct}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy rankings: %w", err)
		}
	}

	if len(summaries) > 0 {
		query := `
			INSERT INTO analytics.concept_daily_summaries (
				import_type, concept_name, trading_date, stock_count,
				total_metric, avg_metric, max_metric, min_metric,
				concept_rank, is_new_high, new_high_streak_days
			) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)
		`

		batch := &pgx.Batch{}
		for _, s := range summaries {
			batch.Queue(query,
				string(t), s.Concept, date, s.StockCount,
				s.Total.String(), s.Avg.String(), s.Max.String(), s.Min.String(),
				s.ConceptRank, s.IsNewHigh, s.NewHighStreak,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert summaries: %w", err)
		}
	}

	if err := upsertState(ctx, tx, t, date, contracts.DerivedFresh, ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkStale implements contracts.DerivedRepository
func (r *Repository) MarkStale(ctx context.Context, t contracts.ImportType, date time.Time, reason string) error {
	return upsertState(ctx, r.pool, t, date, contracts.DerivedStale, reason)
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertState(ctx context.Context, db execer, t contracts.ImportType, date time.Time, status contracts.DerivedStatus, reason string) error {
	query := `
		INSERT INTO analytics.derived_state (import_type, trading_date, status, reason, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
		ON CONFLICT (import_type, trading_date) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			updated_at = NOW()
	`
	if _, err := db.Exec(ctx, query, string(t), date, string(status), reason); err != nil {
		return fmt.Errorf("failed to update derived state: %w", err)
	}
	return nil
}

// State implements contracts.DerivedRepository
func (r *Repository) State(ctx context.Context, t contracts.ImportType, date time.Time) (*contracts.DerivedState, error) {
	query := `
		SELECT status, COALESCE(reason, ''), updated_at
		FROM analytics.derived_state
		WHERE import_type = $1 AND trading_date = $2
	`

	st := &contracts.DerivedState{ImportType: t, TradingDate: date}
	var status string
	err := r.pool.QueryRow(ctx, query, string(t), date).Scan(&status, &st.Reason, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("derived state %s %s: %w", t, date.Format(contracts.DateLayout), contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get derived state: %w", err)
	}
	st.Status = contracts.DerivedStatus(status)
	return st, nil
}

// SummaryHistory implements contracts.DerivedRepository
func (r *Repository) SummaryHistory(ctx context.Context, t contracts.ImportType, from, to time.Time) (map[string][]contracts.HistoryPoint, error) {
	query := `
		SELECT concept_name, trading_date, total_metric::text
		FROM analytics.concept_daily_summaries
		WHERE import_type = $1 AND trading_date BETWEEN $2 AND $3
		ORDER BY concept_name, trading_date
	`

	rows, err := r.pool.Query(ctx, query, string(t), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]contracts.HistoryPoint)
	for rows.Next() {
		var (
			concept string
			date    time.Time
			total   string
		)
		if err := rows.Scan(&concept, &date, &total); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		d, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("invalid total %q: %w", total, err)
		}
		out[concept] = append(out[concept], contracts.HistoryPoint{Date: date, Total: d})
	}
	return out, rows.Err()
}

// Summaries implements contracts.DerivedRepository
func (r *Repository) Summaries(ctx context.Context, t contracts.ImportType, date time.Time) ([]contracts.ConceptDailySummary, error) {
	query := `
		SELECT concept_name, stock_count,
			total_metric::text, avg_metric::text, max_metric::text, min_metric::text,
			concept_rank, is_new_high, new_high_streak_days
		FROM analytics.concept_daily_summaries
		WHERE import_type = $1 AND trading_date = $2
		ORDER BY concept_rank
	`

	rows, err := r.pool.Query(ctx, query, string(t), date)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []contracts.ConceptDailySummary
	for rows.Next() {
		s := contracts.ConceptDailySummary{ImportType: t, TradingDate: date}
		var total, avg, maxV, minV string
		if err := rows.Scan(&s.Concept, &s.StockCount, &total, &avg, &maxV, &minV,
			&s.ConceptRank, &s.IsNewHigh, &s.NewHighStreak); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&s.Total, total}, {&s.Avg, avg}, {&s.Max, maxV}, {&s.Min, minV}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("invalid numeric %q: %w", f.src, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Rankings implements contracts.DerivedRepository; empty concept returns all
func (r *Repository) Rankings(ctx context.Context, t contracts.ImportType, date time.Time, concept string) ([]contracts.StockConceptRanking, error) {
	query := `
		SELECT stock_code, concept_name, rank_in_concept, metric_value, metric_share_pct
		FROM analytics.stock_concept_rankings
		WHERE import_type = $1 AND trading_date = $2 AND ($3 = '' OR concept_name = $3)
		ORDER BY concept_name, rank_in_concept
	`

	rows, err := r.pool.Query(ctx, query, string(t), date, concept)
	if err != nil {
		return nil, fmt.Errorf("failed to query rankings: %w", err)
	}
	defer rows.Close()

	var out []contracts.StockConceptRanking
	for rows.Next() {
		rk := contracts.StockConceptRanking{ImportType: t, TradingDate: date}
		if err := rows.Scan(&rk.Code, &rk.Concept, &rk.Rank, &rk.Metric, &rk.SharePct); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		out = append(out, rk)
	}
	return out, rows.Err()
}
