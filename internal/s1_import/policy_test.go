package s1_import

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

var planDate = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func recs(pairs ...interface{}) []contracts.NormalizedRecord {
	var out []contracts.NormalizedRecord
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, contracts.NormalizedRecord{
			Code:        pairs[i].(string),
			Metric:      float64(pairs[i+1].(int)),
			TradingDate: planDate,
		})
	}
	return out
}

func codes(rs []contracts.NormalizedRecord) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Code)
	}
	return out
}

func set(cs ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		m[c] = struct{}{}
	}
	return m
}

func TestBuildPlan(t *testing.T) {
	incoming := recs("A", 1, "B", 2, "A", 3, "C", 4)
	existing := set("B", "D")

	t.Run("update", func(t *testing.T) {
		plan, skipped := BuildPlan(contracts.ModeUpdate, contracts.ImportTypeVolume, planDate, "b", incoming, existing)
		assert.Equal(t, 1, skipped)
		assert.Equal(t, []string{"B"}, codes(plan.Updates))
		assert.Equal(t, []string{"A", "C"}, codes(plan.Inserts))
		assert.Equal(t, 3.0, plan.Inserts[0].Metric, "last duplicate wins")
		assert.False(t, plan.DeleteAll)
		assert.Empty(t, plan.DeleteCodes)
	})

	t.Run("append", func(t *testing.T) {
		plan, skipped := BuildPlan(contracts.ModeAppend, contracts.ImportTypeVolume, planDate, "b", incoming, existing)
		assert.Equal(t, 0, skipped)
		assert.Len(t, plan.Inserts, 4)
		assert.Empty(t, plan.Updates)
	})

	t.Run("replace", func(t *testing.T) {
		plan, skipped := BuildPlan(contracts.ModeReplace, contracts.ImportTypeVolume, planDate, "b", incoming, nil)
		assert.Equal(t, 1, skipped)
		assert.True(t, plan.DeleteAll)
		assert.Equal(t, []string{"A", "B", "C"}, codes(plan.Inserts))
	})

	t.Run("sync", func(t *testing.T) {
		plan, skipped := BuildPlan(contracts.ModeSync, contracts.ImportTypeVolume, planDate, "b", incoming, existing)
		assert.Equal(t, 1, skipped)
		assert.Equal(t, []string{"D"}, plan.DeleteCodes)
		assert.Equal(t, []string{"B"}, codes(plan.Updates))
		assert.Equal(t, []string{"A", "C"}, codes(plan.Inserts))
		assert.Equal(t, 3, plan.Rows())
	})
}

func TestNeedsExisting(t *testing.T) {
	assert.True(t, NeedsExisting(contracts.ModeUpdate))
	assert.True(t, NeedsExisting(contracts.ModeSync))
	assert.False(t, NeedsExisting(contracts.ModeAppend))
	assert.False(t, NeedsExisting(contracts.ModeReplace))
}
