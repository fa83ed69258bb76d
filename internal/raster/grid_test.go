package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(t *testing.T, w, h int, cell float64) GridSpec {
	t.Helper()
	spec, err := NewGridSpec(Extent{XMin: 0, YMin: 0, XMax: float64(w) * cell, YMax: float64(h) * cell}, cell, 3763)
	require.NoError(t, err)
	return spec
}

func TestParseExtent(t *testing.T) {
	ext, epsg, err := ParseExtent("-10.5, 20, 30.25,40 [EPSG:3763]")
	require.NoError(t, err)
	assert.Equal(t, Extent{XMin: -10.5, YMin: 20, XMax: 30.25, YMax: 40}, ext)
	assert.Equal(t, 3763, epsg)

	ext, epsg, err = ParseExtent("0,0,100,50")
	require.NoError(t, err)
	assert.Equal(t, 0, epsg)
	assert.InDelta(t, 100, ext.Width(), 1e-12)
	assert.InDelta(t, 50, ext.Height(), 1e-12)
}

func TestParseExtent_Invalid(t *testing.T) {
	_, _, err := ParseExtent("1,2,3")
	assert.Error(t, err)

	_, _, err = ParseExtent("a,b,c,d")
	assert.Error(t, err)
}

func TestNewGridSpec_RoundsAndAnchors(t *testing.T) {
	spec, err := NewGridSpec(Extent{XMin: 0, YMin: 3, XMax: 101, YMax: 53}, 25, 3763)
	require.NoError(t, err)
	assert.Equal(t, 4, spec.Width)
	assert.Equal(t, 2, spec.Height)
	assert.Equal(t, 100.0, spec.Extent.XMax)
	assert.Equal(t, 53.0, spec.Extent.YMax)
	assert.Equal(t, 3.0, spec.Extent.YMin)
	assert.Equal(t, 8, spec.Cells())
}

func TestNewGridSpec_Errors(t *testing.T) {
	_, err := NewGridSpec(Extent{XMax: 10, YMax: 10}, 0, 0)
	assert.Error(t, err)

	_, err = NewGridSpec(Extent{XMin: 5, XMax: 5, YMax: 10}, 1, 0)
	assert.Error(t, err)

	_, err = NewGridSpec(Extent{XMax: 1, YMax: 1}, 10, 0)
	assert.Error(t, err)
}

func TestCellCenterAndCellOf(t *testing.T) {
	spec := testSpec(t, 4, 3, 10)

	x, y := spec.CellCenter(0, 0)
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 25.0, y)

	col, row, ok := spec.CellOf(x, y)
	require.True(t, ok)
	assert.Equal(t, 0, col)
	assert.Equal(t, 0, row)

	col, row, ok = spec.CellOf(39.9, 0.1)
	require.True(t, ok)
	assert.Equal(t, 3, col)
	assert.Equal(t, 2, row)

	_, _, ok = spec.CellOf(40, 5)
	assert.False(t, ok)
	_, _, ok = spec.CellOf(-0.1, 5)
	assert.False(t, ok)
}

func TestSameGrid(t *testing.T) {
	a := testSpec(t, 10, 10, 25)
	b := a
	assert.True(t, a.SameGrid(b))

	b.EPSG = 0
	assert.True(t, a.SameGrid(b), "unknown CRS does not conflict")

	b.EPSG = 4326
	assert.False(t, a.SameGrid(b))

	c := testSpec(t, 10, 11, 25)
	assert.False(t, a.SameGrid(c))

	d := a
	d.Extent.XMin += 1
	d.Extent.XMax += 1
	assert.False(t, a.SameGrid(d))
}

func TestGrid_NoData(t *testing.T) {
	g := New(testSpec(t, 2, 2, 1))
	assert.False(t, g.IsNoData(0))
	assert.True(t, g.IsNoData(math.NaN()))

	g.SetNoData(-9999)
	assert.True(t, g.IsNoData(-9999))
	assert.False(t, g.IsNoData(0))
}

func TestGrid_CloneIsDeep(t *testing.T) {
	g := Filled(testSpec(t, 3, 3, 1), 7)
	c := g.Clone()
	c.Set(1, 1, 0)
	assert.Equal(t, 7.0, g.At(1, 1))
	assert.Equal(t, 0.0, c.At(1, 1))
}

func TestGrid_Validate(t *testing.T) {
	g := New(testSpec(t, 3, 3, 1))
	require.NoError(t, g.Validate())

	g.Values = g.Values[:4]
	assert.Error(t, g.Validate())

	assert.Error(t, (&Grid{}).Validate())
}
