package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/concepts"
	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/memstore"
	"github.com/wonny/heatrank/backend/internal/profile"
	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/internal/s2_rank"
	"github.com/wonny/heatrank/backend/internal/s3_newhigh"
	"github.com/wonny/heatrank/backend/internal/tasks"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

func newCoordinator(t *testing.T) (*s1_import.Coordinator, *memstore.Store) {
	t.Helper()
	log := logger.Nop()
	store := memstore.New()
	members := concepts.NewService(store, nil, log)
	detector := s3_newhigh.NewDetector(store, 10, s3_newhigh.NotNewHigh)

	coord := s1_import.NewCoordinator(s1_import.Deps{
		Store:   store,
		Deriver: s2_rank.NewEngine(store, members, store, detector, log),
		Tracker: tasks.NewTracker(store, log),
		Learner: members,
	}, profile.Default(), t.TempDir(), log)
	return coord, store
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestTypeFromFileName(t *testing.T) {
	tests := map[string]contracts.ImportType{
		"volume_2025-09-06.txt": contracts.ImportTypeVolume,
		"HEAT.csv":              contracts.ImportTypeHeat,
		"heat-export.xlsx":      contracts.ImportTypeHeat,
	}
	for name, want := range tests {
		got, ok := TypeFromFileName(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := TypeFromFileName("2025-09-06.txt")
	assert.False(t, ok)
}

func TestInboxImportJob_Run(t *testing.T) {
	coord, store := newCoordinator(t)
	dir := t.TempDir()

	writeFile(t, dir, "volume_a.txt", "600000\t2025-09-06\t100\n000001\t2025-09-06\t50\n")
	writeFile(t, dir, "volume_b.txt", "not a record\n")
	writeFile(t, dir, "misc.txt", "600000\t2025-09-06\t1\n")
	writeFile(t, dir, "notes.md", "ignored")

	job := NewInboxImportJob(coord, dir, "0 */5 * * * *", logger.Nop())
	job.now = func() time.Time { return time.Date(2025, 9, 6, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))

	day := time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC)
	assert.Len(t, store.Rows(contracts.ImportTypeVolume, day), 2)

	assert.ElementsMatch(t, []string{
		"20250906T090000_volume_a.txt",
		"20250906T090000_volume_a.txt.summary.json",
	}, listDir(t, filepath.Join(dir, ProcessedDir)))
	assert.ElementsMatch(t, []string{
		"20250906T090000_volume_b.txt",
		"20250906T090000_volume_b.txt.summary.json",
		"20250906T090000_misc.txt",
		"20250906T090000_misc.txt.summary.json",
	}, listDir(t, filepath.Join(dir, FailedDir)))
	assert.ElementsMatch(t, []string{"notes.md", ProcessedDir, FailedDir}, listDir(t, dir))

	// nothing left to do
	require.NoError(t, job.Run(context.Background()))
}

func TestInboxImportJob_MissingDir(t *testing.T) {
	coord, _ := newCoordinator(t)
	job := NewInboxImportJob(coord, filepath.Join(t.TempDir(), "absent"), "@hourly", logger.Nop())
	assert.Error(t, job.Run(context.Background()))
}

func TestInboxImportJob_CancelledLeavesFiles(t *testing.T) {
	coord, _ := newCoordinator(t)
	dir := t.TempDir()
	writeFile(t, dir, "volume_a.txt", "600000\t2025-09-06\t100\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewInboxImportJob(coord, dir, "@hourly", logger.Nop())
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Equal(t, []string{"volume_a.txt"}, listDir(t, dir))
}

type fakeMaintainer struct {
	opts     s1_import.MaintainOptions
	err      error
	statsErr error
}

func (f *fakeMaintainer) Maintain(_ context.Context, opts s1_import.MaintainOptions) error {
	f.opts = opts
	return f.err
}

func (f *fakeMaintainer) TableStats(context.Context) ([]s1_import.TableStats, error) {
	return []s1_import.TableStats{{Table: "data.stock_metrics", LiveRows: 10}}, f.statsErr
}

func TestMaintenanceJob_Run(t *testing.T) {
	fm := &fakeMaintainer{}
	job := NewMaintenanceJob(fm, profile.Maintenance{Vacuum: true}, "0 30 3 * * *", logger.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, s1_import.MaintainOptions{Analyze: true, Vacuum: true}, fm.opts)
	assert.Equal(t, "table_maintenance", job.Name())
	assert.Equal(t, "0 30 3 * * *", job.Schedule())

	fm.statsErr = errors.New("stats down")
	assert.NoError(t, job.Run(context.Background()), "stats are informational")

	fm.err = errors.New("vacuum failed")
	assert.Error(t, job.Run(context.Background()))
}
