package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/raster"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleInputs() model.RunInputs {
	return model.RunInputs{
		Sources:     map[string]string{"depth_points": "wells.shp", "aquifer": "geology.shp"},
		Extent:      "0 0 250 250 [EPSG:3763]",
		CellSize:    25,
		EPSG:        3763,
		OutputDir:   "/tmp/out",
		Destination: "/tmp/drastic.tif",
	}
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, sampleInputs())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))
	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, "wells.shp", got.Inputs.Sources["depth_points"])
	assert.Equal(t, 3763, got.Inputs.EPSG)
	assert.Nil(t, got.Result)

	result := &model.RunResult{
		OutputDir:   "/tmp/out",
		Destination: "/tmp/drastic.tif",
		Factors:     map[string]string{"D": "/tmp/out/d.tif"},
		Checksum:    "00ff",
		Stats:       raster.Stats{Cells: 100, Valid: 100, Min: 51, Max: 51, Mean: 51},
		Duration:    1500,
	}
	require.NoError(t, st.UpdateRunResult(ctx, run.ID, result))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 51.0, got.Result.Stats.Mean)
	assert.Equal(t, "/tmp/out/d.tif", got.Result.Factors["D"])
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, sampleInputs())
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, model.RunStatusCancelled, "cancelled after stage I"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)
	assert.Equal(t, "cancelled after stage I", got.Error)
}

func TestSQLite_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = st.CompletePhase(ctx, "missing", &model.PhaseResult{Status: model.PhaseStatusComplete})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = st.GetLayer(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run, err := st.CreateRun(ctx, sampleInputs())
		require.NoError(t, err)
		if i%2 == 0 {
			require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed))
		}
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 3)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSQLite_Phases(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, sampleInputs())
	require.NoError(t, err)

	for _, name := range []string{"depth", "recharge"} {
		p, err := st.CreatePhase(ctx, run.ID, name)
		require.NoError(t, err)
		assert.Equal(t, model.PhaseStatusRunning, p.Status)
		require.NoError(t, st.CompletePhase(ctx, p.ID, &model.PhaseResult{
			Name: name, Status: model.PhaseStatusComplete, Duration: 10, Progress: 13,
		}))
	}

	phases, err := st.ListPhases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "depth", phases[0].Name)
	assert.Equal(t, model.PhaseStatusComplete, phases[0].Status)
	require.NotNil(t, phases[0].Result)
	assert.Equal(t, 13, phases[0].Result.Progress)
}

func TestSQLite_Layers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, sampleInputs())
	require.NoError(t, err)

	l := &model.Layer{
		RunID: run.ID, Name: "drastic", Path: "/tmp/drastic.tif", Checksum: "abc",
		EPSG: 3763, Width: 10, Height: 10, CellSize: 25,
		Stats: raster.Stats{Cells: 100, Valid: 100, Min: 51, Max: 51, Mean: 51,
			Histogram: []raster.Bin{{Lo: 51, Hi: 51.0000001, Count: 100}}},
	}
	require.NoError(t, st.RegisterLayer(ctx, l))
	assert.NotEmpty(t, l.ID)
	assert.False(t, l.CreatedAt.IsZero())

	standalone := &model.Layer{Name: "imported", Path: "/tmp/x.tif", Checksum: "def", Width: 1, Height: 1, CellSize: 1}
	require.NoError(t, st.RegisterLayer(ctx, standalone))

	got, err := st.GetLayer(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.RunID)
	assert.Equal(t, 25.0, got.CellSize)
	require.Len(t, got.Stats.Histogram, 1)
	assert.Equal(t, 100, got.Stats.Histogram[0].Count)

	byRun, err := st.ListLayers(ctx, LayerFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "drastic", byRun[0].Name)

	byName, err := st.ListLayers(ctx, LayerFilter{Name: "imported"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Empty(t, byName[0].RunID)

	all, err := st.ListLayers(ctx, LayerFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_ImplementsStore(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}
