package profile

import (
	"fmt"
	"strings"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

// ValidationError a profile constraint failed
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks all constraints
func Validate(p *Profile) error {
	// === Meta ===
	if p.Meta.ProfileID == "" {
		return ValidationError{"meta.profile_id", "required"}
	}

	// === Import ===
	if p.Import.BatchSize < 1 || p.Import.BatchSize > 10_000 {
		return ValidationError{"import.batch_size", "must be in [1, 10000]"}
	}
	// postgres caps bind parameters at 65535; inserts use 8 per row
	if p.Import.BatchSize*8 > 65535 {
		return ValidationError{"import.batch_size", "exceeds bind parameter limit"}
	}
	if p.Import.ChunkSizeKB < 1 {
		return ValidationError{"import.chunk_size_kb", "must be >= 1"}
	}
	if p.Import.SpillThreshold < 1 {
		return ValidationError{"import.spill_threshold", "must be >= 1"}
	}
	if p.Import.WarningSamples < 0 {
		return ValidationError{"import.warning_samples", "must be >= 0"}
	}
	if p.Import.ReadRateKBPerSec < 0 {
		return ValidationError{"import.read_rate_kb_per_sec", "must be >= 0"}
	}
	if _, err := contracts.ParseOverwriteMode(p.Import.DefaultMode); err != nil {
		return ValidationError{"import.default_mode", err.Error()}
	}

	// === Ranking ===
	if p.Ranking.NewHighWindowDays < 1 || p.Ranking.NewHighWindowDays > 366 {
		return ValidationError{"ranking.new_high_window_days", "must be in [1, 366]"}
	}
	if p.Ranking.EqualityPolicy != EqualityNotNewHigh && p.Ranking.EqualityPolicy != EqualityNewHigh {
		return ValidationError{"ranking.equality_policy", fmt.Sprintf("must be %s or %s", EqualityNotNewHigh, EqualityNewHigh)}
	}

	// === Concepts ===
	for alias, canonical := range p.Concepts.Aliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(canonical) == "" {
			return ValidationError{"concepts.aliases", "alias and canonical name must be non-empty"}
		}
		if _, chained := p.Concepts.Aliases[canonical]; chained {
			return ValidationError{"concepts.aliases", fmt.Sprintf("%q maps to another alias %q", alias, canonical)}
		}
	}

	// === Wide ===
	for field, names := range p.Wide.HeaderAliases {
		if len(names) == 0 {
			return ValidationError{fmt.Sprintf("wide.header_aliases.%s", field), "must list at least one title"}
		}
	}

	return nil
}
