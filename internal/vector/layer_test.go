package vector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drastic-cli/internal/failure"
)

const tm06Prj = `PROJCS["ETRS_1989_Portugal_TM06",GEOGCS["GCS_ETRS_1989",DATUM["D_ETRS_1989",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-8.133108333333334],PARAMETER["Scale_Factor",1.0],PARAMETER["Latitude_Of_Origin",39.66825833333333],UNIT["Meter",1.0]]`

func TestOpen_Points(t *testing.T) {
	path := pointsLayer(t)
	require.NoError(t, os.WriteFile(strings.TrimSuffix(path, ".shp")+".prj", []byte(tm06Prj), 0o644))

	l, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, shp.ShapeType(shp.POINT), l.ShapeType)
	assert.True(t, l.IsPoint())
	assert.Equal(t, 3763, l.EPSG)
	require.Len(t, l.Fields, 2)
	assert.Equal(t, "NAME", l.Fields[0].Name)
	assert.Equal(t, byte('F'), l.Fields[1].Type)
	assert.True(t, l.Fields[1].Numeric())
	require.Len(t, l.Features, 3)

	v, ok := l.Value(0, 0)
	assert.True(t, ok)
	assert.Equal(t, "P1", v)

	_, ok = l.Value(1, 1)
	assert.False(t, ok, "unset cell reads as null")

	assert.Equal(t, 1, l.FieldIndex("depth"))
	assert.Equal(t, -1, l.FieldIndex("missing"))
}

func TestObservations(t *testing.T) {
	l, err := Open(pointsLayer(t))
	require.NoError(t, err)

	obs, err := l.Observations("DEPTH")
	require.NoError(t, err)
	assert.Equal(t, []Observation{
		{X: 10, Y: 20, Value: 12.5},
		{X: 50, Y: 60, Value: 3},
	}, obs)
}

func TestObservations_Errors(t *testing.T) {
	points, err := Open(pointsLayer(t))
	require.NoError(t, err)

	_, err = points.Observations("NAME")
	assert.True(t, failure.Is(err, failure.InputValidation))
	assert.ErrorContains(t, err, "not numeric")

	_, err = points.Observations("NOPE")
	assert.True(t, failure.Is(err, failure.InputValidation))

	polys, err := Open(geologyLayer(t))
	require.NoError(t, err)
	_, err = polys.Observations("LITO")
	assert.True(t, failure.Is(err, failure.InputValidation))
	assert.ErrorContains(t, err, "polygon layer")
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "none.shp"))
	assert.True(t, failure.Is(err, failure.LayerLoad))

	_, err = Open(filepath.Join(dir, "layer.gpkg"))
	assert.True(t, failure.Is(err, failure.LayerLoad))

	path := pointsLayer(t)
	require.NoError(t, os.Remove(strings.TrimSuffix(path, ".shp")+".dbf"))
	_, err = Open(path)
	assert.True(t, failure.Is(err, failure.LayerLoad))
	assert.ErrorContains(t, err, "attribute table")
}

func TestOpen_Latin1CodePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soils.shp")
	writeShapefile(t, path, shp.POLYGON,
		[]shp.Field{shp.StringField("SOLO", 20)},
		[]shp.Shape{polygon(square(0, 0, 1, 1, true))},
		[][]any{{"Arenoso m\xe9dio"}},
	)
	require.NoError(t, os.WriteFile(strings.TrimSuffix(path, ".shp")+".cpg", []byte("ISO-8859-1\n"), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	v, _ := l.Value(0, 0)
	assert.Equal(t, "Arenoso médio", v)
}

func TestReadCodePage(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	enc, err := readCodePage(filepath.Join(dir, "none.cpg"))
	require.NoError(t, err)
	assert.Nil(t, enc)

	enc, err = readCodePage(write("u.cpg", "UTF-8"))
	require.NoError(t, err)
	assert.Nil(t, enc)

	enc, err = readCodePage(write("w.cpg", "1252"))
	require.NoError(t, err)
	assert.NotNil(t, enc)

	_, err = readCodePage(write("bad.cpg", "klingon"))
	assert.ErrorContains(t, err, "unknown code page")
}

func TestReadPrj(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	assert.Equal(t, 3763, readPrj(write("a.prj", tm06Prj)))
	assert.Equal(t, 3763, readPrj(write("b.prj",
		`PROJCS["ETRS89 / Portugal TM06",GEOGCS["ETRS89"],UNIT["metre",1],AUTHORITY["EPSG","3763"]]`)))
	assert.Equal(t, 0, readPrj(write("c.prj", `PROJCS["Somewhere"]`)))
	assert.Equal(t, 0, readPrj(filepath.Join(dir, "missing.prj")))
}
