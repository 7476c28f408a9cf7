package s1_import

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/dbtest"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

var writerDate = time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC)

func metricRecords(codes ...string) []contracts.NormalizedRecord {
	out := make([]contracts.NormalizedRecord, 0, len(codes))
	for i, code := range codes {
		out = append(out, contracts.NormalizedRecord{
			Code:         code,
			CodeOriginal: code,
			TradingDate:  writerDate,
			Metric:       float64(10 * (i + 1)),
		})
	}
	return out
}

func writePlan(t contracts.ImportType) *contracts.WritePlan {
	return &contracts.WritePlan{ImportType: t, Date: writerDate, BatchID: uuid.NewString()}
}

func sessionRole(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	var role string
	require.NoError(t, pool.QueryRow(context.Background(), "SHOW session_replication_role").Scan(&role))
	return role
}

func TestBulkWriter_SubBatches(t *testing.T) {
	pool := dbtest.Pool(t, 0)
	it := dbtest.ImportType(t, pool)
	ctx := context.Background()

	w := NewBulkWriter(pool, 2, false, logger.Nop())
	repo := NewRepository(pool)

	var codes []string
	for i := 0; i < 5; i++ {
		codes = append(codes, fmt.Sprintf("%06d", 600000+i))
	}

	plan := writePlan(it)
	plan.Inserts = metricRecords(codes...)
	res, err := w.Apply(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Inserted)

	existing, err := w.ExistingCodes(ctx, it, writerDate)
	require.NoError(t, err)
	assert.Len(t, existing, 5)

	update := writePlan(it)
	update.Updates = metricRecords(codes[:3]...)
	for i := range update.Updates {
		update.Updates[i].Metric = 99
	}
	res, err = w.Apply(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)

	got, err := repo.MetricsForDate(ctx, it, writerDate)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 99.0, got[codes[0]])
	assert.Equal(t, 50.0, got[codes[4]])

	dates, err := repo.ImportedDates(ctx, it, writerDate.AddDate(0, 0, -1), writerDate)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.True(t, dates[0].Equal(writerDate))
}

func TestBulkWriter_FailedBatchRollsBackDate(t *testing.T) {
	pool := dbtest.Pool(t, 0)
	it := dbtest.ImportType(t, pool)
	ctx := context.Background()

	w := NewBulkWriter(pool, 2, false, logger.Nop())
	repo := NewRepository(pool)

	seed := writePlan(it)
	seed.Inserts = metricRecords("600000", "600001")
	_, err := w.Apply(ctx, seed)
	require.NoError(t, err)
	before, err := repo.MetricsForDate(ctx, it, writerDate)
	require.NoError(t, err)

	// the NUL byte fails the second sub-batch after the delete and the first one ran
	plan := writePlan(it)
	plan.DeleteAll = true
	plan.Inserts = metricRecords("000001", "000002", "000003", "bad\x00code", "000005")

	_, err = w.Apply(ctx, plan)
	var txErr *contracts.TransactionError
	require.True(t, errors.As(err, &txErr), "got %v", err)
	assert.Equal(t, "insert", txErr.Op)

	after, err := repo.MetricsForDate(ctx, it, writerDate)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBulkWriter_RestoresReplicationRole(t *testing.T) {
	// one connection, so the writer's session is the one inspected
	pool := dbtest.Pool(t, 1)
	it := dbtest.ImportType(t, pool)
	ctx := context.Background()

	var super bool
	require.NoError(t, pool.QueryRow(ctx, "SELECT rolsuper FROM pg_roles WHERE rolname = current_user").Scan(&super))
	if !super {
		t.Log("not a superuser: relaxation is refused and only the fallback path runs")
	}

	w := NewBulkWriter(pool, 2, true, logger.Nop())

	ok := writePlan(it)
	ok.Inserts = metricRecords("600000", "600001", "600002")
	_, err := w.Apply(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "origin", sessionRole(t, pool))

	bad := writePlan(it)
	bad.Inserts = metricRecords("600003", "bad\x00code")
	_, err = w.Apply(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, "origin", sessionRole(t, pool))

	got, err := NewRepository(pool).MetricsForDate(ctx, it, writerDate)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBulkWriter_TableStatsAndMaintain(t *testing.T) {
	pool := dbtest.Pool(t, 0)
	ctx := context.Background()

	w := NewBulkWriter(pool, 0, false, logger.Nop())
	stats, err := w.TableStats(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(stats))
	for _, s := range stats {
		names = append(names, s.Table)
	}
	for _, table := range MaintainedTables {
		assert.Contains(t, names, table)
	}

	require.NoError(t, w.Maintain(ctx, MaintainOptions{Analyze: true}))
}
