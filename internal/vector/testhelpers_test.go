package vector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

// writeShapefile creates a shapefile fixture. Row values may be int,
// float64, string or nil (left null).
func writeShapefile(t *testing.T, path string, typ shp.ShapeType, fields []shp.Field, shapes []shp.Shape, rows [][]any) {
	t.Helper()
	w, err := shp.Create(path, typ)
	require.NoError(t, err)
	require.NoError(t, w.SetFields(fields))
	for i, s := range shapes {
		row := int(w.Write(s))
		if i >= len(rows) {
			continue
		}
		for j, v := range rows[i] {
			if v == nil {
				continue
			}
			require.NoError(t, w.WriteAttribute(row, j, v))
		}
	}
	w.Close()

	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
}

// square returns a closed ring; clockwise rings are polygon exteriors.
func square(x0, y0, x1, y1 float64, clockwise bool) []shp.Point {
	if clockwise {
		return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
	}
	return []shp.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

func polygon(rings ...[]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

func pointsLayer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wells.shp")
	writeShapefile(t, path, shp.POINT,
		[]shp.Field{shp.StringField("NAME", 20), shp.FloatField("DEPTH", 12, 3)},
		[]shp.Shape{
			&shp.Point{X: 10, Y: 20},
			&shp.Point{X: 30, Y: 40},
			&shp.Point{X: 50, Y: 60},
		},
		[][]any{
			{"P1", 12.5},
			{"P2", nil},
			{"P3", 3.0},
		},
	)
	return path
}

func geologyLayer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geology.shp")
	writeShapefile(t, path, shp.POLYGON,
		[]shp.Field{shp.StringField("LITO", 30)},
		[]shp.Shape{
			polygon(square(0, 0, 10, 10, true)),
			polygon(square(10, 0, 20, 10, true)),
			polygon(square(20, 0, 30, 10, true)),
		},
		[][]any{{"X"}, {"Y"}, {"Z"}},
	)
	return path
}
