package profile

// Profile holds the pipeline tunables loaded from YAML.
// Environment settings (DSNs, ports) stay in pkg/config.
type Profile struct {
	Meta        Meta        `yaml:"meta" json:"meta"`
	Import      Import      `yaml:"import" json:"import"`
	Ranking     Ranking     `yaml:"ranking" json:"ranking"`
	Concepts    Concepts    `yaml:"concepts" json:"concepts"`
	Wide        Wide        `yaml:"wide" json:"wide"`
	Maintenance Maintenance `yaml:"maintenance" json:"maintenance"`
}

// Meta identifies the profile
type Meta struct {
	ProfileID string `yaml:"profile_id" json:"profile_id"`
	Version   string `yaml:"version" json:"version"`
}

// Import S1: grouping and bulk write settings
type Import struct {
	BatchSize            int    `yaml:"batch_size" json:"batch_size"`             // rows per INSERT/UPDATE statement
	ChunkSizeKB          int    `yaml:"chunk_size_kb" json:"chunk_size_kb"`       // read size
	SpillThreshold       int    `yaml:"spill_threshold" json:"spill_threshold"`   // buffered records before spilling to disk
	WarningSamples       int    `yaml:"warning_samples" json:"warning_samples"`   // line errors kept verbatim
	RelaxIntegrityChecks bool   `yaml:"relax_integrity_checks" json:"relax_integrity_checks"`
	DefaultMode          string `yaml:"default_mode" json:"default_mode"`
	ReadRateKBPerSec     int    `yaml:"read_rate_kb_per_sec" json:"read_rate_kb_per_sec"` // 0 = unlimited
}

// Ranking S2/S3: ranking and new high settings
type Ranking struct {
	NewHighWindowDays int    `yaml:"new_high_window_days" json:"new_high_window_days"`
	EqualityPolicy    string `yaml:"equality_policy" json:"equality_policy"` // not_new_high, new_high
}

// Concepts membership handling
type Concepts struct {
	Aliases              map[string]string `yaml:"aliases" json:"aliases"` // alias → canonical
	LearnFromWideImports bool              `yaml:"learn_from_wide_imports" json:"learn_from_wide_imports"`
}

// Wide header-bearing input settings
type Wide struct {
	HeaderAliases map[string][]string `yaml:"header_aliases" json:"header_aliases"`
}

// Maintenance post-load table upkeep
type Maintenance struct {
	AnalyzeAfterImport bool `yaml:"analyze_after_import" json:"analyze_after_import"`
	Vacuum             bool `yaml:"vacuum" json:"vacuum"`
	Reindex            bool `yaml:"reindex" json:"reindex"`
}

// Equality policies
const (
	EqualityNotNewHigh = "not_new_high"
	EqualityNewHigh    = "new_high"
)

// Default returns the built-in profile used when no file is configured
func Default() *Profile {
	return &Profile{
		Meta: Meta{ProfileID: "default", Version: "1"},
		Import: Import{
			BatchSize:            1000,
			ChunkSizeKB:          64,
			SpillThreshold:       200_000,
			WarningSamples:       10,
			RelaxIntegrityChecks: true,
			DefaultMode:          "update",
		},
		Ranking: Ranking{
			NewHighWindowDays: 10,
			EqualityPolicy:    EqualityNotNewHigh,
		},
		Concepts: Concepts{
			Aliases:              map[string]string{},
			LearnFromWideImports: true,
		},
		Wide: Wide{HeaderAliases: map[string][]string{}},
		Maintenance: Maintenance{
			AnalyzeAfterImport: true,
		},
	}
}
