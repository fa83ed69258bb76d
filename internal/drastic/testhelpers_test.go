package drastic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drastic-cli/internal/raster"
)

// fixture is a complete set of run inputs over a 250 m square.
type fixture struct {
	dir string
	cfg Config
}

func writeShapefile(t *testing.T, path string, typ shp.ShapeType, fields []shp.Field, shapes []shp.Shape, rows [][]any) {
	t.Helper()
	w, err := shp.Create(path, typ)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for i, s := range shapes {
		row := int(w.Write(s))
		for j, v := range rows[i] {
			require.NoError(t, w.WriteAttribute(row, j, v))
		}
	}
	w.Close()
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
}

func squarePolygon(x0, y0, x1, y1 float64) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0},
	}}))
	return &p
}

func writeText(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeRaster(t *testing.T, path string, ext raster.Extent, cell, v float64) string {
	t.Helper()
	spec, err := raster.NewGridSpec(ext, cell, 3763)
	require.NoError(t, err)
	require.NoError(t, raster.WriteGeoTIFF(path, raster.Filled(spec, v)))
	return path
}

// newFixture writes inputs whose factor scores are uniform: D=10 (0.7 m
// deep wells), R=1 (30 mm), A=2, S=3, T=10 (flat) and I=4.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0o755))
	ext := raster.Extent{XMin: 0, YMin: 0, XMax: 250, YMax: 250}

	points := filepath.Join(in, "wells.shp")
	writeShapefile(t, points, shp.POINT,
		[]shp.Field{shp.FloatField("DEPTH", 12, 3)},
		[]shp.Shape{
			&shp.Point{X: 20, Y: 20},
			&shp.Point{X: 230, Y: 20},
			&shp.Point{X: 125, Y: 125},
			&shp.Point{X: 20, Y: 230},
		},
		[][]any{{0.7}, {0.7}, {0.7}, {0.7}},
	)

	geology := filepath.Join(in, "geology.shp")
	writeShapefile(t, geology, shp.POLYGON,
		[]shp.Field{shp.StringField("LITO", 20)},
		[]shp.Shape{squarePolygon(-10, -10, 260, 260)},
		[][]any{{"Granite"}},
	)

	soil := filepath.Join(in, "soil.shp")
	writeShapefile(t, soil, shp.POLYGON,
		[]shp.Field{shp.StringField("SOLO", 20), shp.StringField("IMP", 20)},
		[]shp.Shape{squarePolygon(-10, -10, 260, 260)},
		[][]any{{"Loam", "Sand"}},
	)

	cfg := Config{
		Points:           points,
		PointsAttribute:  "DEPTH",
		Geology:          geology,
		GeologyAttribute: "LITO",
		GeologyLookup:    writeText(t, filepath.Join(in, "geology.csv"), "IN_;OUT\nGranite;2\n"),
		Soil:             soil,
		SoilAttribute:    "SOLO",
		SoilLookup:       writeText(t, filepath.Join(in, "soil.csv"), "IN_;OUT\nLoam;3\n"),
		ImpactAttribute:  "IMP",
		ImpactLookup:     writeText(t, filepath.Join(in, "impact.csv"), "IN_,OUT\nSand,4\n"),
		// Coarser than the reference grid so recharge is resampled.
		Precipitation: writeRaster(t, filepath.Join(in, "precip.tif"), ext, 50, 30),
		Elevation:     writeRaster(t, filepath.Join(in, "dem.tif"), ext, 25, 100),
		Extent:        ext,
		EPSG:          3763,
		CellSize:      25,
		OutputDir:     filepath.Join(dir, "out"),
	}
	return &fixture{dir: dir, cfg: cfg}
}
