package s1_import

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

func spoolRecord(day int, code string) contracts.NormalizedRecord {
	return contracts.NormalizedRecord{
		ImportType:  contracts.ImportTypeHeat,
		Code:        code,
		TradingDate: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Metric:      float64(day),
		Extra:       map[string]string{"name": "n" + code},
	}
}

func TestGroupSpool_InMemory(t *testing.T) {
	s := NewGroupSpool(t.TempDir(), 100)
	defer s.Close()

	require.NoError(t, s.Add(spoolRecord(16, "a")))
	require.NoError(t, s.Add(spoolRecord(15, "b")))
	require.NoError(t, s.Add(spoolRecord(16, "c")))

	assert.Equal(t, []string{"2024-01-15", "2024-01-16"}, s.Dates())
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, 0, s.Spills())

	got, err := s.Load("2024-01-16")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, codes(got))
}

func TestGroupSpool_SpillsAndKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	s := NewGroupSpool(dir, 3)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(spoolRecord(15+i%2, fmt.Sprintf("%02d", i))))
	}
	assert.Greater(t, s.Spills(), 0)

	files, _ := filepath.Glob(filepath.Join(dir, "heatrank-spool-*"))
	assert.Len(t, files, 2)

	got, err := s.Load("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"00", "02", "04", "06", "08"}, codes(got))
	assert.Equal(t, "n00", got[0].Extra["name"])

	// adding after a load keeps appending
	require.NoError(t, s.Add(spoolRecord(15, "10")))
	got, err = s.Load("2024-01-15")
	require.NoError(t, err)
	assert.Len(t, got, 6)

	s.Release("2024-01-15")
	assert.Equal(t, []string{"2024-01-16"}, s.Dates())

	require.NoError(t, s.Close())
	files, _ = filepath.Glob(filepath.Join(dir, "heatrank-spool-*"))
	assert.Empty(t, files)

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
