package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drastic-cli/internal/metrics"
	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/store"
)

type mockTiles struct {
	mock.Mock
}

func (m *mockTiles) Tile(ctx context.Context, layer string, z, x, y int) ([]byte, error) {
	args := m.Called(ctx, layer, z, x, y)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type env struct {
	srv     *httptest.Server
	store   *store.SQLiteStore
	metrics *metrics.Provider
	tiles   *mockTiles
	run     *model.Run
	layer   *model.Layer
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	run, err := st.CreateRun(ctx, model.RunInputs{OutputDir: dir, CellSize: 25, EPSG: 3763})
	require.NoError(t, err)
	phase, err := st.CreatePhase(ctx, run.ID, "depth")
	require.NoError(t, err)
	require.NoError(t, st.CompletePhase(ctx, phase.ID, &model.PhaseResult{Name: "depth", Status: model.PhaseStatusComplete, Progress: 13}))

	spec, err := raster.NewGridSpec(raster.Extent{XMax: 50, YMax: 50}, 25, 3763)
	require.NoError(t, err)
	g := raster.New(spec)
	g.Values = []float64{51, 97, 120, 200}
	path := filepath.Join(dir, "drastic.tif")
	require.NoError(t, raster.Write(path, g))
	sum, err := raster.Checksum(path)
	require.NoError(t, err)

	layer := &model.Layer{RunID: run.ID, Name: "drastic", Path: path, Checksum: sum, EPSG: 3763, Width: 2, Height: 2, CellSize: 25}
	require.NoError(t, st.RegisterLayer(ctx, layer))

	m := metrics.New(false)
	tiles := new(mockTiles)
	s, err := New(st, m, tiles, Options{})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &env{srv: srv, store: st, metrics: m, tiles: tiles, run: run, layer: layer}
}

func (e *env) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	e := setup(t)
	resp := e.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestRuns(t *testing.T) {
	e := setup(t)

	runs := decode[[]model.Run](t, e.get(t, "/runs"))
	require.Len(t, runs, 1)
	assert.Equal(t, e.run.ID, runs[0].ID)

	runs = decode[[]model.Run](t, e.get(t, "/runs?status=complete"))
	assert.Empty(t, runs)

	resp := e.get(t, "/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	run := decode[model.Run](t, e.get(t, "/runs/"+e.run.ID))
	assert.Equal(t, model.RunStatusQueued, run.Status)

	resp = e.get(t, "/runs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	phases := decode[[]model.RunPhase](t, e.get(t, "/runs/"+e.run.ID+"/phases"))
	require.Len(t, phases, 1)
	assert.Equal(t, "depth", phases[0].Name)
	require.NotNil(t, phases[0].Result)
	assert.Equal(t, 13, phases[0].Result.Progress)

	resp = e.get(t, "/runs/missing/phases")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLayers(t *testing.T) {
	e := setup(t)

	layers := decode[[]model.Layer](t, e.get(t, "/layers?run_id="+e.run.ID))
	require.Len(t, layers, 1)
	assert.Equal(t, e.layer.ID, layers[0].ID)

	layer := decode[model.Layer](t, e.get(t, "/layers/"+e.layer.ID))
	assert.Equal(t, "drastic", layer.Name)

	resp := e.get(t, "/layers/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLayerDownload(t *testing.T) {
	e := setup(t)

	resp := e.get(t, "/layers/"+e.layer.ID+"/download")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "drastic.tif")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	want, err := os.ReadFile(e.layer.Path)
	require.NoError(t, err)
	assert.Equal(t, want, body)

	require.NoError(t, os.WriteFile(e.layer.Path, []byte("tampered"), 0o644))
	resp = e.get(t, "/layers/"+e.layer.ID+"/download")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, os.Remove(e.layer.Path))
	resp = e.get(t, "/layers/"+e.layer.ID+"/download")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestLayerStats_Cached(t *testing.T) {
	e := setup(t)

	resp := e.get(t, "/layers/"+e.layer.ID+"/stats?bins=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	st := decode[raster.Stats](t, resp)
	assert.Equal(t, 4, st.Valid)
	assert.Equal(t, 51.0, st.Min)
	assert.Equal(t, 200.0, st.Max)
	assert.Len(t, st.Histogram, 2)

	resp = e.get(t, "/layers/"+e.layer.ID+"/stats?bins=2")
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))

	resp = e.get(t, "/layers/"+e.layer.ID+"/stats?bins=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	metricsResp := e.get(t, "/metrics")
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `drastic_stats_cache_total{outcome="hit"} 1`)
	assert.Contains(t, string(body), `drastic_http_requests_total{code="200",route="/layers/{id}/stats"}`)
}

func TestTiles(t *testing.T) {
	e := setup(t)
	e.tiles.On("Tile", mock.Anything, "drastic", 10, 500, 380).Return([]byte{0x1a}, nil).Once()
	e.tiles.On("Tile", mock.Anything, "broken", 10, 1, 1).Return(nil, errors.New("db down"))

	resp := e.get(t, "/tiles/drastic/10/500/380.pbf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	assert.Equal(t, "application/vnd.mapbox-vector-tile", resp.Header.Get("Content-Type"))

	resp = e.get(t, "/tiles/drastic/10/500/380.pbf")
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))

	resp = e.get(t, "/tiles/drastic/2/1/1.pbf")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.get(t, "/tiles/drastic/10/x/1.pbf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.get(t, "/tiles/broken/10/1/1.pbf")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	e.tiles.AssertExpectations(t)
}

func TestTiles_Disabled(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	s, err := New(st, nil, nil, Options{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/drastic/10/1/1.pbf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are only mounted with a provider")
}

func TestCORS(t *testing.T) {
	e := setup(t)
	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, nil, nil, Options{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "store is required"))
}
