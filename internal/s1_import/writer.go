package s1_import

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// insertParams is the number of bind parameters per inserted row
const insertParams = 8

// updateParams is the number of bind parameters per updated row
const updateParams = 5

// MaintainedTables are refreshed by Maintain
var MaintainedTables = []string{
	"data.stock_metrics",
	"analytics.stock_concept_rankings",
	"analytics.concept_daily_summaries",
}

// BulkWriter writes date groups into data.stock_metrics
// ⭐ SSOT: raw metric rows are written here only
type BulkWriter struct {
	pool      *pgxpool.Pool
	batchSize int
	relax     bool
	log       *logger.Logger
}

// NewBulkWriter creates a new bulk writer.
// relax enables session_replication_role = replica for the write transaction.
func NewBulkWriter(pool *pgxpool.Pool, batchSize int, relax bool, log *logger.Logger) *BulkWriter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &BulkWriter{
		pool:      pool,
		batchSize: batchSize,
		relax:     relax,
		log:       log.Module("bulk_writer"),
	}
}

// ExistingCodes implements contracts.MetricStore
func (w *BulkWriter) ExistingCodes(ctx context.Context, t contracts.ImportType, date time.Time) (map[string]struct{}, error) {
	query := `
		SELECT DISTINCT stock_code
		FROM data.stock_metrics
		WHERE import_type = $1 AND trading_date = $2
	`

	rows, err := w.pool.Query(ctx, query, string(t), date)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing codes: %w", err)
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		codes[code] = struct{}{}
	}
	return codes, rows.Err()
}

// Apply implements contracts.MetricStore: the whole plan commits or nothing does
func (w *BulkWriter) Apply(ctx context.Context, plan *contracts.WritePlan) (res *contracts.WriteResult, err error) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, &contracts.TransactionError{Date: plan.Date, Op: "acquire", Err: err}
	}

	relaxed := w.relaxIntegrity(ctx, conn)
	defer w.restore(conn, relaxed)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, &contracts.TransactionError{Date: plan.Date, Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	res = &contracts.WriteResult{}

	if res.Deleted, err = w.deleteRows(ctx, tx, plan); err != nil {
		return nil, &contracts.TransactionError{Date: plan.Date, Op: "delete", Err: err}
	}

	for start := 0; start < len(plan.Updates); start += w.batchSize {
		end := min(start+w.batchSize, len(plan.Updates))
		n, uerr := w.updateBatch(ctx, tx, plan, plan.Updates[start:end])
		if uerr != nil {
			err = &contracts.TransactionError{Date: plan.Date, Op: "update", Err: uerr}
			return nil, err
		}
		res.Updated += n
	}

	for start := 0; start < len(plan.Inserts); start += w.batchSize {
		end := min(start+w.batchSize, len(plan.Inserts))
		n, ierr := w.insertBatch(ctx, tx, plan, plan.Inserts[start:end])
		if ierr != nil {
			err = &contracts.TransactionError{Date: plan.Date, Op: "insert", Err: ierr}
			return nil, err
		}
		res.Inserted += n
	}

	if cerr := tx.Commit(ctx); cerr != nil {
		err = &contracts.TransactionError{Date: plan.Date, Op: "commit", Err: cerr}
		return nil, err
	}

	w.log.WithFields(map[string]interface{}{
		"import_type": plan.ImportType,
		"date":        plan.Date.Format(contracts.DateLayout),
		"deleted":     res.Deleted,
		"updated":     res.Updated,
		"inserted":    res.Inserted,
		"relaxed":     relaxed,
	}).Debug("Date group committed")

	return res, nil
}

// relaxIntegrity disables trigger-based checks (FK, user triggers) for the
// session. Needs superuser or replication rights; without them the write
// proceeds with checks on.
func (w *BulkWriter) relaxIntegrity(ctx context.Context, conn *pgxpool.Conn) bool {
	if !w.relax {
		return false
	}
	if _, err := conn.Exec(ctx, "SET session_replication_role = replica"); err != nil {
		w.log.WithError(err).Warn("Integrity relaxation unavailable, writing with checks enabled")
		return false
	}
	return true
}

// restore resets the session role and returns the connection to the pool.
// A connection whose role cannot be reset is closed instead.
func (w *BulkWriter) restore(conn *pgxpool.Conn, relaxed bool) {
	if !relaxed {
		conn.Release()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.Exec(ctx, "RESET session_replication_role"); err != nil {
		w.log.WithError(err).Error("Failed to restore session_replication_role, discarding connection")
		_ = conn.Hijack().Close(ctx)
		return
	}
	conn.Release()
}

func (w *BulkWriter) deleteRows(ctx context.Context, tx pgx.Tx, plan *contracts.WritePlan) (int, error) {
	switch {
	case plan.DeleteAll:
		tag, err := tx.Exec(ctx,
			`DELETE FROM data.stock_metrics WHERE import_type = $1 AND trading_date = $2`,
			string(plan.ImportType), plan.Date)
		if err != nil {
			return 0, err
		}
		return int(tag.RowsAffected()), nil

	case len(plan.DeleteCodes) > 0:
		tag, err := tx.Exec(ctx,
			`DELETE FROM data.stock_metrics WHERE import_type = $1 AND trading_date = $2 AND stock_code = ANY($3)`,
			string(plan.ImportType), plan.Date, plan.DeleteCodes)
		if err != nil {
			return 0, err
		}
		return int(tag.RowsAffected()), nil
	}
	return 0, nil
}

// updateBatch rewrites every stored row of the given codes; returns distinct codes touched
func (w *BulkWriter) updateBatch(ctx context.Context, tx pgx.Tx, plan *contracts.WritePlan, recs []contracts.NormalizedRecord) (int, error) {
	args := make([]interface{}, 0, 3+len(recs)*updateParams)
	args = append(args, string(plan.ImportType), plan.Date, plan.BatchID)

	values := make([]string, 0, len(recs))
	for i, rec := range recs {
		extra, err := extraJSON(rec.Extra)
		if err != nil {
			return 0, err
		}
		p := 4 + i*updateParams
		values = append(values, fmt.Sprintf("($%d::text, $%d::text, $%d::text, $%d::float8, $%d::jsonb)", p, p+1, p+2, p+3, p+4))
		args = append(args, rec.Code, rec.CodeOriginal, rec.MarketPrefix, rec.Metric, extra)
	}

	query := `
		WITH updated AS (
			UPDATE data.stock_metrics AS m SET
				stock_code_original = v.code_original,
				market_prefix = v.market_prefix,
				metric_value = v.metric,
				extra = v.extra,
				batch_id = $3::uuid,
				updated_at = NOW()
			FROM (VALUES ` + strings.Join(values, ", ") + `) AS v(code, code_original, market_prefix, metric, extra)
			WHERE m.import_type = $1 AND m.trading_date = $2 AND m.stock_code = v.code
			RETURNING m.stock_code
		)
		SELECT COUNT(DISTINCT stock_code) FROM updated
	`

	var n int
	if err := tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (w *BulkWriter) insertBatch(ctx context.Context, tx pgx.Tx, plan *contracts.WritePlan, recs []contracts.NormalizedRecord) (int, error) {
	args := make([]interface{}, 0, len(recs)*insertParams)
	values := make([]string, 0, len(recs))

	for i, rec := range recs {
		extra, err := extraJSON(rec.Extra)
		if err != nil {
			return 0, err
		}
		p := 1 + i*insertParams
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d::uuid)",
			p, p+1, p+2, p+3, p+4, p+5, p+6, p+7))
		args = append(args,
			string(plan.ImportType), rec.Code, rec.CodeOriginal, rec.MarketPrefix,
			plan.Date, rec.Metric, extra, plan.BatchID,
		)
	}

	query := `
		INSERT INTO data.stock_metrics (
			import_type, stock_code, stock_code_original, market_prefix,
			trading_date, metric_value, extra, batch_id
		) VALUES ` + strings.Join(values, ", ")

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func extraJSON(extra map[string]string) (*string, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra: %w", err)
	}
	s := string(b)
	return &s, nil
}

// ============================================================================
// Statistics and maintenance
// ============================================================================

// TableStats describes one table's size
type TableStats struct {
	Table       string     `json:"table"`
	LiveRows    int64      `json:"live_rows"`
	DeadRows    int64      `json:"dead_rows"`
	TotalBytes  int64      `json:"total_bytes"`
	LastAnalyze *time.Time `json:"last_analyze,omitempty"`
	LastVacuum  *time.Time `json:"last_vacuum,omitempty"`
}

// MaintainOptions selects maintenance steps
type MaintainOptions struct {
	Analyze bool
	Vacuum  bool
	Reindex bool
}

// TableStats reports row counts and sizes for the pipeline tables
func (w *BulkWriter) TableStats(ctx context.Context) ([]TableStats, error) {
	query := `
		SELECT
			schemaname || '.' || relname,
			n_live_tup,
			n_dead_tup,
			pg_total_relation_size(relid),
			GREATEST(last_analyze, last_autoanalyze),
			GREATEST(last_vacuum, last_autovacuum)
		FROM pg_stat_user_tables
		WHERE schemaname IN ('data', 'analytics', 'ops')
		ORDER BY schemaname, relname
	`

	rows, err := w.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table stats: %w", err)
	}
	defer rows.Close()

	var out []TableStats
	for rows.Next() {
		var s TableStats
		if err := rows.Scan(&s.Table, &s.LiveRows, &s.DeadRows, &s.TotalBytes, &s.LastAnalyze, &s.LastVacuum); err != nil {
			return nil, fmt.Errorf("failed to scan table stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Maintain refreshes planner statistics and optionally vacuums and reindexes.
// Runs outside any transaction (VACUUM cannot run inside one).
func (w *BulkWriter) Maintain(ctx context.Context, opts MaintainOptions) error {
	var errs []error

	for _, table := range MaintainedTables {
		start := time.Now()

		var stmt string
		switch {
		case opts.Vacuum:
			stmt = "VACUUM (ANALYZE) " + table
		case opts.Analyze:
			stmt = "ANALYZE " + table
		}
		if stmt != "" {
			if _, err := w.pool.Exec(ctx, stmt); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", stmt, err))
				continue
			}
		}

		if opts.Reindex {
			if _, err := w.pool.Exec(ctx, "REINDEX TABLE "+table); err != nil {
				errs = append(errs, fmt.Errorf("reindex %s: %w", table, err))
				continue
			}
		}

		w.log.WithFields(map[string]interface{}{
			"table":    table,
			"vacuum":   opts.Vacuum,
			"reindex":  opts.Reindex,
			"duration": time.Since(start).String(),
		}).Info("Table maintained")
	}

	return errors.Join(errs...)
}
