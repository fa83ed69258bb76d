package raster

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	g := New(testSpec(t, 3, 2, 1))
	copy(g.Values, []float64{1, 2, 3, 4, -9999, math.NaN()})
	g.SetNoData(-9999)

	st := ComputeStats(g, 3)
	assert.Equal(t, 6, st.Cells)
	assert.Equal(t, 4, st.Valid)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 4.0, st.Max)
	assert.InDelta(t, 2.5, st.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), st.StdDev, 1e-12)

	require.Len(t, st.Histogram, 3)
	total := 0
	for _, b := range st.Histogram {
		total += b.Count
	}
	assert.Equal(t, 4, total)
	assert.Equal(t, []int{1, 1, 2}, []int{st.Histogram[0].Count, st.Histogram[1].Count, st.Histogram[2].Count}, "max value lands in last bin")
}

func TestComputeStats_Constant(t *testing.T) {
	st := ComputeStats(Filled(testSpec(t, 2, 2, 1), 21), 5)
	assert.Equal(t, 21.0, st.Min)
	assert.Equal(t, 21.0, st.Max)
	assert.Equal(t, 0.0, st.StdDev)
	require.Len(t, st.Histogram, 1)
	assert.Equal(t, 4, st.Histogram[0].Count)
}

func TestComputeStats_Empty(t *testing.T) {
	g := Filled(testSpec(t, 2, 2, 1), math.NaN())
	st := ComputeStats(g, 4)
	assert.Equal(t, 0, st.Valid)
	assert.Nil(t, st.Histogram)
}

func TestResample_Nearest(t *testing.T) {
	src := New(testSpec(t, 2, 2, 10))
	copy(src.Values, []float64{1, 2, 3, 4})
	src.SetNoData(-1)

	dst, err := NewGridSpec(Extent{XMin: 0, YMin: 0, XMax: 30, YMax: 20}, 5, 3763)
	require.NoError(t, err)
	out := Resample(src, dst)

	require.Equal(t, 6, out.Width)
	require.Equal(t, 4, out.Height)
	assert.Equal(t, 1.0, out.At(0, 0))
	assert.Equal(t, 2.0, out.At(3, 1))
	assert.Equal(t, 3.0, out.At(1, 3))
	assert.Equal(t, 4.0, out.At(2, 2))
	// Columns past the source extent take the no-data value.
	assert.Equal(t, -1.0, out.At(4, 0))
	assert.True(t, out.IsNoData(out.At(5, 3)))
}

func TestResample_SameGridCopies(t *testing.T) {
	src := Filled(testSpec(t, 3, 3, 1), 2)
	out := Resample(src, src.Spec())
	out.Set(0, 0, 9)
	assert.Equal(t, 2.0, src.At(0, 0))
}

func TestChecksum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("drastic"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("drastic!"), 0o644))

	sa, err := Checksum(a)
	require.NoError(t, err)
	assert.Len(t, sa, 16)

	again, err := Checksum(a)
	require.NoError(t, err)
	assert.Equal(t, sa, again)

	sb, err := Checksum(b)
	require.NoError(t, err)
	assert.NotEqual(t, sa, sb)

	_, err = Checksum(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
