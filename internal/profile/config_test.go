package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()
	require.NoError(t, Validate(p))
	assert.Equal(t, 1000, p.Import.BatchSize)
	assert.Equal(t, 10, p.Ranking.NewHighWindowDays)
	assert.Equal(t, EqualityNotNewHigh, p.Ranking.EqualityPolicy)
	assert.Equal(t, 10, p.Import.WarningSamples)
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
meta:
  profile_id: cn_heat
import:
  batch_size: 500
  default_mode: replace
ranking:
  new_high_window_days: 20
  equality_policy: new_high
concepts:
  aliases:
    人工智能AI: 人工智能
wide:
  header_aliases:
    reads: [热度]
`)

	p, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "cn_heat", p.Meta.ProfileID)
	assert.Equal(t, 500, p.Import.BatchSize)
	assert.Equal(t, 64, p.Import.ChunkSizeKB) // untouched default
	assert.Equal(t, "replace", p.Import.DefaultMode)
	assert.Equal(t, 20, p.Ranking.NewHighWindowDays)
	assert.Equal(t, EqualityNewHigh, p.Ranking.EqualityPolicy)
	assert.Equal(t, "人工智能", p.Concepts.Aliases["人工智能AI"])
	assert.Equal(t, []string{"热度"}, p.Wide.HeaderAliases["reads"])
}

func TestParse_UnknownFieldFails(t *testing.T) {
	_, err := Parse([]byte("import:\n  batch_sise: 10\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile)
		field  string
	}{
		{"missing id", func(p *Profile) { p.Meta.ProfileID = "" }, "meta.profile_id"},
		{"zero batch", func(p *Profile) { p.Import.BatchSize = 0 }, "import.batch_size"},
		{"huge batch", func(p *Profile) { p.Import.BatchSize = 9000 }, "import.batch_size"},
		{"bad mode", func(p *Profile) { p.Import.DefaultMode = "merge" }, "import.default_mode"},
		{"zero window", func(p *Profile) { p.Ranking.NewHighWindowDays = 0 }, "ranking.new_high_window_days"},
		{"bad policy", func(p *Profile) { p.Ranking.EqualityPolicy = "maybe" }, "ranking.equality_policy"},
		{"chained alias", func(p *Profile) { p.Concepts.Aliases = map[string]string{"a": "b", "b": "c"} }, "concepts.aliases"},
		{"empty header alias", func(p *Profile) { p.Wide.HeaderAliases = map[string][]string{"reads": nil} }, "wide.header_aliases.reads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(p)

			err := Validate(p)
			var ve ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLoadAndHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("meta:\n  profile_id: test\n"), 0o644))

	p, raw, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	hash, err := Hash(p)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	again, _ := Hash(p)
	assert.Equal(t, hash, again)

	def, err := LoadOrDefault("")
	require.NoError(t, err)
	defHash, _ := Hash(def)
	assert.NotEqual(t, hash, defHash)
}
