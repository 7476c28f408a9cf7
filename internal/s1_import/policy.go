package s1_import

import (
	"sort"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// BuildPlan turns one date group into row operations for mode.
//
// Outside append mode a code appearing more than once in the group is
// collapsed to its last occurrence; the dropped lines are returned as skipped.
// existing is the set of codes already stored for the date (ignored by
// append and replace).
func BuildPlan(
	mode contracts.OverwriteMode,
	t contracts.ImportType,
	date time.Time,
	batchID string,
	records []contracts.NormalizedRecord,
	existing map[string]struct{},
) (*contracts.WritePlan, int) {
	plan := &contracts.WritePlan{ImportType: t, Date: date, BatchID: batchID}

	if mode == contracts.ModeAppend {
		plan.Inserts = records
		return plan, 0
	}

	deduped, skipped := lastWins(records)

	switch mode {
	case contracts.ModeReplace:
		plan.DeleteAll = true
		plan.Inserts = deduped

	case contracts.ModeUpdate:
		for _, rec := range deduped {
			if _, ok := existing[rec.Code]; ok {
				plan.Updates = append(plan.Updates, rec)
			} else {
				plan.Inserts = append(plan.Inserts, rec)
			}
		}

	case contracts.ModeSync:
		incoming := make(map[string]struct{}, len(deduped))
		for _, rec := range deduped {
			incoming[rec.Code] = struct{}{}
			if _, ok := existing[rec.Code]; ok {
				plan.Updates = append(plan.Updates, rec)
			} else {
				plan.Inserts = append(plan.Inserts, rec)
			}
		}
		for code := range existing {
			if _, ok := incoming[code]; !ok {
				plan.DeleteCodes = append(plan.DeleteCodes, code)
			}
		}
		sort.Strings(plan.DeleteCodes)
	}

	return plan, skipped
}

// NeedsExisting reports whether mode must know the stored codes
func NeedsExisting(mode contracts.OverwriteMode) bool {
	return mode == contracts.ModeUpdate || mode == contracts.ModeSync
}

// lastWins keeps the last record per code at the position of its first occurrence
func lastWins(records []contracts.NormalizedRecord) ([]contracts.NormalizedRecord, int) {
	pos := make(map[string]int, len(records))
	out := make([]contracts.NormalizedRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := pos[rec.Code]; ok {
			out[i] = rec
			continue
		}
		pos[rec.Code] = len(out)
		out = append(out, rec)
	}
	return out, len(records) - len(out)
}
