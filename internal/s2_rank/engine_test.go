package s2_rank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/memstore"
	"github.com/wonny/heatrank/backend/internal/s3_newhigh"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestRank_OrderAndTies(t *testing.T) {
	values := map[string]float64{"600001": 50, "600002": 100, "600003": 50, "600004": 0}
	members := map[string][]string{
		"Banks": {"600001", "600002", "600003", "999999"},
		"Empty": {"888888"},
		"Zero":  {"600004"},
	}

	rankings, summaries := Rank(contracts.ImportTypeVolume, day, values, members)

	require.Len(t, summaries, 2, "concepts without metrics are skipped")
	banks := summaries[0]
	assert.Equal(t, "Banks", banks.Concept)
	assert.Equal(t, 1, banks.ConceptRank)
	assert.Equal(t, 3, banks.StockCount)
	assert.True(t, banks.Total.Equal(decimal.NewFromInt(200)))
	assert.True(t, banks.Max.Equal(decimal.NewFromInt(100)))
	assert.True(t, banks.Min.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "66.666667", banks.Avg.String())

	var codes []string
	for _, r := range rankings {
		if r.Concept == "Banks" {
			codes = append(codes, r.Code)
			assert.Equal(t, len(codes), r.Rank)
		}
	}
	assert.Equal(t, []string{"600002", "600001", "600003"}, codes)
	assert.InDelta(t, 50.0, rankings[0].SharePct, 1e-9)

	zero := summaries[1]
	assert.Equal(t, "Zero", zero.Concept)
	for _, r := range rankings {
		if r.Concept == "Zero" {
			assert.Equal(t, 0.0, r.SharePct)
		}
	}
}

func TestRank_ConceptTieBreakByName(t *testing.T) {
	values := map[string]float64{"1": 10, "2": 10}
	_, summaries := Rank(contracts.ImportTypeHeat, day, values, map[string][]string{"Zeta": {"1"}, "Alpha": {"2"}})

	require.Len(t, summaries, 2)
	assert.Equal(t, "Alpha", summaries[0].Concept)
	assert.Equal(t, 1, summaries[0].ConceptRank)
	assert.Equal(t, "Zeta", summaries[1].Concept)
	assert.Equal(t, 2, summaries[1].ConceptRank)
}

func TestRank_Deterministic(t *testing.T) {
	values := map[string]float64{"a": 3, "b": 3, "c": 1, "d": 7}
	members := map[string][]string{"X": {"d", "c", "b", "a"}, "Y": {"a", "b"}}

	r1, s1 := Rank(contracts.ImportTypeHeat, day, values, members)
	r2, s2 := Rank(contracts.ImportTypeHeat, day, values, members)
	assert.Equal(t, r1, r2)
	assert.Equal(t, s1, s2)
}

func newEngine(store *memstore.Store) *Engine {
	det := s3_newhigh.NewDetector(store, 10, s3_newhigh.NotNewHigh)
	return NewEngine(store, store, store, det, logger.Nop())
}

func seed(t *testing.T, store *memstore.Store, date time.Time, values map[string]float64) {
	t.Helper()
	plan := &contracts.WritePlan{ImportType: contracts.ImportTypeHeat, Date: date, BatchID: "b", DeleteAll: true}
	for code, v := range values {
		plan.Inserts = append(plan.Inserts, contracts.NormalizedRecord{
			ImportType: contracts.ImportTypeHeat, Code: code, CodeOriginal: code, TradingDate: date, Metric: v,
		})
	}
	_, err := store.Apply(context.Background(), plan)
	require.NoError(t, err)
}

func TestEngine_Derive(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.AddMembers(ctx, []contracts.ConceptMembership{
		{Code: "600000", Concept: "Banks"},
		{Code: "600036", Concept: "Banks"},
	})
	require.NoError(t, err)

	engine := newEngine(store)

	seed(t, store, day.AddDate(0, 0, -1), map[string]float64{"600000": 100, "600036": 100})
	_, err = engine.Derive(ctx, contracts.ImportTypeHeat, day.AddDate(0, 0, -1))
	require.NoError(t, err)

	seed(t, store, day, map[string]float64{"600000": 300, "600036": 100})
	res, err := engine.Derive(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Concepts)
	assert.Equal(t, 2, res.Rankings)
	assert.Equal(t, 1, res.NewHighs)

	sums, err := store.Summaries(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.True(t, sums[0].IsNewHigh)
	assert.Equal(t, 10, sums[0].NewHighStreak)

	ranks, err := store.Rankings(ctx, contracts.ImportTypeHeat, day, "Banks")
	require.NoError(t, err)
	assert.Len(t, ranks, sums[0].StockCount)

	st, err := store.State(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	assert.Equal(t, contracts.DerivedFresh, st.Status)
}

func TestEngine_Derive_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.AddMembers(ctx, []contracts.ConceptMembership{{Code: "1", Concept: "A"}})
	require.NoError(t, err)
	seed(t, store, day, map[string]float64{"1": 5})

	engine := newEngine(store)
	_, err = engine.Derive(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	_, err = engine.Derive(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)

	sums, err := store.Summaries(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestEngine_Derive_FailureMarksStale(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.AddMembers(ctx, []contracts.ConceptMembership{{Code: "1", Concept: "A"}})
	require.NoError(t, err)
	seed(t, store, day, map[string]float64{"1": 5})

	store.DeriveErr = memstore.ErrInjected
	_, err = newEngine(store).Derive(ctx, contracts.ImportTypeHeat, day)

	var aggErr *contracts.AggregationError
	require.True(t, errors.As(err, &aggErr))
	assert.Equal(t, contracts.StageRank, aggErr.Stage)
	assert.ErrorIs(t, err, memstore.ErrInjected)

	st, err := store.State(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	assert.Equal(t, contracts.DerivedStale, st.Status)
	assert.NotEmpty(t, st.Reason)
}

func TestEngine_Derive_DetectorFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.HistoryErr = memstore.ErrInjected

	_, err := newEngine(store).Derive(ctx, contracts.ImportTypeHeat, day)

	var aggErr *contracts.AggregationError
	require.True(t, errors.As(err, &aggErr))
	assert.Equal(t, contracts.StageNewHigh, aggErr.Stage)
}
