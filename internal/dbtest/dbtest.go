// Package dbtest opens a migrated Postgres pool for integration tests.
// Tests using it skip when DATABASE_URL is not set.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/database"
)

// Pool connects to DATABASE_URL and applies the embedded migrations.
// maxConns > 0 caps the pool size; 1 makes every query share one session.
func Pool(t testing.TB, maxConns int32) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	if maxConns > 0 {
		cfg.MaxConns = maxConns
		cfg.MinConns = 0
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &database.DB{Pool: pool}
	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return pool
}

// ImportType returns an import type no other test uses. Every row stored
// under it is deleted when the test ends.
func ImportType(t testing.TB, pool *pgxpool.Pool) contracts.ImportType {
	t.Helper()
	it := contracts.ImportType("test_" + uuid.NewString()[:8])

	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{
			"data.stock_metrics",
			"analytics.stock_concept_rankings",
			"analytics.concept_daily_summaries",
			"analytics.derived_state",
			"ops.import_tasks",
		} {
			if _, err := pool.Exec(ctx, "DELETE FROM "+table+" WHERE import_type = $1", string(it)); err != nil {
				t.Logf("cleanup %s: %v", table, err)
			}
		}
	})
	return it
}
