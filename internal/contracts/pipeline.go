package contracts

// Pipeline stages (SSOT)
// Every log line, task detail and derived-state row uses these constants.
//
// Flow:
//   S0 → S1 → S2 → S3
//   Parse  Import  Rank  NewHigh

// Stage represents a pipeline stage
type Stage string

const (
	// StageParse S0: decode, split, normalize and validate input lines
	// Location: internal/s0_parse/
	StageParse Stage = "S0_PARSE"

	// StageImport S1: date grouping, overwrite policy, bulk write
	// Location: internal/s1_import/
	StageImport Stage = "S1_IMPORT"

	// StageRank S2: per-concept stock ranks and concept summaries
	// Location: internal/s2_rank/
	StageRank Stage = "S2_RANK"

	// StageNewHigh S3: rolling-window new high flags and streaks
	// Location: internal/s3_newhigh/
	StageNewHigh Stage = "S3_NEWHIGH"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// ShortName returns the abbreviated stage name ("S0", "S1", ...)
func (s Stage) ShortName() string {
	if len(s) < 2 {
		return string(s)
	}
	return string(s[:2])
}

// AllStages returns every stage in execution order
func AllStages() []Stage {
	return []Stage{StageParse, StageImport, StageRank, StageNewHigh}
}
