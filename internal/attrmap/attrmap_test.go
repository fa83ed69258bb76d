package attrmap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/lookup"
	"github.com/sells-group/drastic-cli/internal/vector"
)

func cell(x0, y0 float64) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		{X: x0, Y: y0}, {X: x0, Y: y0 + 1}, {X: x0 + 1, Y: y0 + 1}, {X: x0 + 1, Y: y0}, {X: x0, Y: y0},
	}}))
	return &p
}

// categoryLayer writes a polygon shapefile with one LITO value per feature.
func categoryLayer(t *testing.T, tokens ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geology.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("LITO", 20)}))
	for i, tok := range tokens {
		row := int(w.Write(cell(float64(i), 0)))
		if tok != "" {
			require.NoError(t, w.WriteAttribute(row, 0, tok))
		}
	}
	w.Close()
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}

func outputs(t *testing.T, path string) []any {
	t.Helper()
	l, err := vector.Open(path)
	require.NoError(t, err)
	idx := l.FieldIndex("OUT")
	require.GreaterOrEqual(t, idx, 0)
	var got []any
	for i := range l.Features {
		v, ok, err := l.Float(i, idx)
		require.NoError(t, err)
		if !ok {
			got = append(got, nil)
			continue
		}
		got = append(got, v)
	}
	return got
}

func TestApply_RoundTrip(t *testing.T) {
	path := categoryLayer(t, "X", "Y", "Z")
	layer, err := vector.Open(path)
	require.NoError(t, err)

	sum, err := Apply(context.Background(), layer, "LITO",
		lookup.New("mem", map[string]float64{"X": 1, "Y": 2}), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Features)
	assert.Equal(t, 2, sum.Mapped)
	assert.Equal(t, 1, sum.Unmapped)
	assert.Equal(t, []string{"Z"}, sum.UnmappedTokens)
	assert.Equal(t, "OUT", sum.OutputField)

	assert.Equal(t, []any{1.0, 2.0, nil}, outputs(t, path))
}

func TestApply_SecondPassOverwrites(t *testing.T) {
	path := categoryLayer(t, "X", "Y")
	layer, err := vector.Open(path)
	require.NoError(t, err)
	_, err = Apply(context.Background(), layer, "LITO",
		lookup.New("first", map[string]float64{"X": 1, "Y": 2}), Options{})
	require.NoError(t, err)

	layer, err = vector.Open(path)
	require.NoError(t, err)
	_, err = Apply(context.Background(), layer, "lito",
		lookup.New("second", map[string]float64{"Y": 9}), Options{})
	require.NoError(t, err)

	assert.Equal(t, []any{nil, 9.0}, outputs(t, path))

	layer, err = vector.Open(path)
	require.NoError(t, err)
	assert.Len(t, layer.Fields, 2, "existing OUT field is reused")
}

func TestApply_NullCategory(t *testing.T) {
	path := categoryLayer(t, "X", "")
	layer, err := vector.Open(path)
	require.NoError(t, err)

	sum, err := Apply(context.Background(), layer, "LITO",
		lookup.New("mem", map[string]float64{"X": 4, "": 7}), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Unmapped)
	assert.Equal(t, 1, sum.Null)
	assert.Empty(t, sum.UnmappedTokens)
	assert.Equal(t, []any{4.0, nil}, outputs(t, path))
}

func TestApply_NullNeverMatchesEmptyToken(t *testing.T) {
	path := categoryLayer(t, "X", "")
	layer, err := vector.Open(path)
	require.NoError(t, err)

	table, err := lookup.Parse("mem", [][]string{{"IN_", "OUT"}, {"", "7"}, {"X", "4"}})
	require.NoError(t, err)

	sum, err := Apply(context.Background(), layer, "LITO", table, Options{RequireComplete: true})
	require.NoError(t, err, "null categories are not missing from the table")
	assert.Equal(t, 1, sum.Mapped)
	assert.Equal(t, 1, sum.Null)
	assert.Equal(t, []any{4.0, nil}, outputs(t, path))
}

func TestApply_RequireComplete(t *testing.T) {
	path := categoryLayer(t, "X", "W")
	before, err := os.ReadFile(strings.TrimSuffix(path, ".shp") + ".dbf")
	require.NoError(t, err)

	layer, err := vector.Open(path)
	require.NoError(t, err)
	_, err = Apply(context.Background(), layer, "LITO",
		lookup.New("mem", map[string]float64{"X": 1}), Options{RequireComplete: true})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.InputValidation))
	assert.Contains(t, err.Error(), `"W"`)

	after, err := os.ReadFile(strings.TrimSuffix(path, ".shp") + ".dbf")
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed pass leaves the table untouched")

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock released")
}

func TestApply_Errors(t *testing.T) {
	layer, err := vector.Open(categoryLayer(t, "X"))
	require.NoError(t, err)
	table := lookup.New("mem", map[string]float64{"X": 1})

	_, err = Apply(context.Background(), layer, "MISSING", table, Options{})
	assert.True(t, failure.Is(err, failure.InputValidation))

	_, err = Apply(context.Background(), layer, "LITO", table, Options{OutputField: "LITO"})
	assert.True(t, failure.Is(err, failure.InputValidation))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Apply(ctx, layer, "LITO", table, Options{})
	assert.True(t, failure.Is(err, failure.Cancelled))
}

func TestMap_FromFiles(t *testing.T) {
	path := categoryLayer(t, "Granito", "Xisto")
	csvPath := filepath.Join(t.TempDir(), "geo.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("\ufeffIN_;OUT\nGranito;3\nXisto;2\n"), 0o644))

	sum, err := Map(context.Background(), path, "LITO", csvPath, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Mapped)
	assert.Equal(t, []any{3.0, 2.0}, outputs(t, path))
}

func TestMap_Failures(t *testing.T) {
	path := categoryLayer(t, "X")

	_, err := Map(context.Background(), filepath.Join(t.TempDir(), "none.shp"), "LITO", "x.csv", Options{})
	assert.True(t, failure.Is(err, failure.LayerLoad))

	_, err = Map(context.Background(), path, "LITO", filepath.Join(t.TempDir(), "none.csv"), Options{})
	assert.True(t, failure.Is(err, failure.MappingFile))
}
